package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"timecapsule/internal/app"
	"timecapsule/internal/service"

	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions, open Opener) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the journal HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				if addr == "" {
					addr = a.Config.HTTP.Addr
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := Serve(ctx, addr, a); err != nil {
					return out.Fail(ExitFailure, ErrCodeGeneric, "server stopped", err, nil)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

// Serve runs the HTTP API on addr until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, a *app.App) error {
	cfg := a.Config.HTTP
	cfg.Addr = addr
	return service.NewServer(cfg, a.Handler(), a.Logger).Run(ctx, nil)
}
