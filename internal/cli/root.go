package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// NewRootCmd creates the root command for jwt-forward-auth.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jwt-forward-auth",
		Short: "jwt-forward-auth - a forward-auth JWT validation service",
		Long: `jwt-forward-auth is a forward-auth sub-request target for reverse
proxies: it validates a JWT found in a configurable request header against
one of several configured JWKS-backed authorities, enforces required claims,
and projects claim values into response headers on success.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config.yaml)")

	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
