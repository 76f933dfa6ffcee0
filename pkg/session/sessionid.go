// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/rand"
	"fmt"
)

// sessionIDLength is the length of a minted session id. 64 characters
// over a 62-symbol alphabet yield more than 380 bits of entropy.
const sessionIDLength = 64

const sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newSessionID mints a cryptographically random session id. Random
// bytes are rejection-sampled so every alphabet symbol is equally
// likely.
func newSessionID() (string, error) {
	// Largest multiple of len(alphabet) below 256; bytes at or above
	// it would bias the low symbols and are discarded.
	const limit = 248

	id := make([]byte, 0, sessionIDLength)
	buf := make([]byte, sessionIDLength)

	for len(id) < sessionIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			id = append(id, sessionIDAlphabet[int(b)%len(sessionIDAlphabet)])
			if len(id) == sessionIDLength {
				break
			}
		}
	}

	return string(id), nil
}
