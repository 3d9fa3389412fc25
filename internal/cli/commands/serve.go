package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/entrymap/internal/cli/ui"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/server"
)

var (
	portFlag int
	hostFlag string
)

// shutdownTimeout bounds graceful shutdown of the HTTP server
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, key conversion and entry lookup over HTTP",
		Long: `Start the HTTP server on server.host:server.port.

Routes:
  GET /healthz        liveness
  GET /metrics        Prometheus metrics of entry operations
  GET /keys/{dn}      flat key of a distinguished name
  GET /entries/{dn}   attributes of a stored entry`,
		Example: `  # Serve on the configured address
  entrymap serve

  # Serve on all interfaces
  entrymap serve --host 0.0.0.0 --port 9464`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().StringVar(&hostFlag, "host", "", "Host to bind (overrides server.host)")
	cmd.Flags().StringSliceVar(&objectClassFlags, "object-class", nil, "Object classes of looked up entries")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, objectClassFlags)
	if err != nil {
		reportConfigError(cmd, err)
		return err
	}
	defer env.Close()

	if portFlag != 0 {
		env.config.Server.Port = portFlag
	}
	if hostFlag != "" {
		env.config.Server.Host = hostFlag
	}

	srvConfig := server.DefaultConfig(env.config.Server.Address())
	srvConfig.Metrics = env.metrics.Handler()
	srvConfig.Keys = keys.NewConverter(env.config.Keys.UseAllRDN)
	srvConfig.Logger = env.logger
	srvConfig.Entries = func(ctx context.Context, key string) (map[string][]string, error) {
		return env.lookup(ctx, key)
	}

	srv, err := server.New(srvConfig)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ui.Inform(fmt.Sprintf("Serving on http://%s (backend: %s)", env.config.Server.Address(), env.config.Backend.Type)).Fprint(cmd.OutOrStdout(), noColor)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			ui.BackendFailure(env.config.Backend.Type, err, "the server did not start").Fprint(cmd.ErrOrStderr(), noColor)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	env.logger.Info("shutting down", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
