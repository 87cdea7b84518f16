package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
	"github.com/tooboredtocode/jwt-forward-auth/internal/runtime"
	"github.com/tooboredtocode/jwt-forward-auth/internal/server"
	"github.com/tooboredtocode/jwt-forward-auth/internal/telemetry"
)

const (
	defaultListenAddr = "0.0.0.0:8080"
	defaultConfigPath = "config.yaml"
	defaultLogLevel   = "info"

	jwksHTTPTimeout = 10 * time.Second
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the forward-auth HTTP server",
		Long: `Run the forward-auth HTTP server.

Precedence for --listen, --log and --config (highest to lowest):
  1. Command-line flags
  2. Environment variables (LISTEN_ADDRESS, JWT_FWA_LOG, CONFIG)
  3. Built-in defaults

Values in the configuration file can be overridden by JWT_FWA_-prefixed
environment variables.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (default: "+defaultListenAddr+")")
	cmd.Flags().StringP("log", "l", "", "log filter directive (default: "+defaultLogLevel+")")
	cmd.Flags().BoolP("ansi", "a", false, "disable ANSI colors in the log output (plain log)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listenAddr := firstNonEmpty(flagString(cmd, "listen"), os.Getenv("LISTEN_ADDRESS"), defaultListenAddr)
	configPath := firstNonEmpty(configFile, os.Getenv("CONFIG"), defaultConfigPath)
	logLevel := firstNonEmpty(flagString(cmd, "log"), os.Getenv("JWT_FWA_LOG"), defaultLogLevel)
	ansi := resolveANSI(cmd)

	log := telemetry.NewLogger(os.Stderr, logLevel, !ansi)

	clk := clock.NewSystemClock()
	httpClient := &http.Client{Timeout: jwksHTTPTimeout}

	orchestrator, err := runtime.New(ctx, configPath, httpClient, clk, log)
	if err != nil {
		return fmt.Errorf("start config orchestrator: %w", err)
	}
	defer orchestrator.Close()

	srv := server.New(listenAddr, orchestrator, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.ShutdownGrace)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func flagString(cmd *cobra.Command, name string) string {
	if !cmd.Flags().Changed(name) {
		return ""
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveANSI mirrors the upstream CLI's slightly unusual precedence: ANSI
// defaults to on; passing --ansi turns it off (it's a "plain log" switch
// despite its name). JWT_FWA_PLAIN_LOG can additionally force it off when
// set to anything other than unset/"0"/"f"/"false", but never forces it
// back on.
func resolveANSI(cmd *cobra.Command) bool {
	ansi := true
	if v, _ := cmd.Flags().GetBool("ansi"); v {
		ansi = false
	}
	switch strings.ToLower(os.Getenv("JWT_FWA_PLAIN_LOG")) {
	case "", "0", "f", "false":
	default:
		ansi = false
	}
	return ansi
}
