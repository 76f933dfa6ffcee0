// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires the authgate commands.
package app

import (
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/pkg/logger"
)

// NewRootCmd creates the root command for authgate.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authgate",
		Short: "OIDC forward-auth sidecar",
		Long: `Authgate is an HTTP authorization sidecar. A reverse proxy consults
its decision endpoint before forwarding a request upstream; authgate
answers allow, deny, or redirect-to-login based on an OIDC session
kept in Redis.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}
