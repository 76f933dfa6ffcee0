// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entrypoint for the authgate forward-auth sidecar.
package main

import (
	"os"

	"github.com/authgate/authgate/cmd/authgate/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
