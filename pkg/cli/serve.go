package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandbuild/sandbuild/pkg/server"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command
func NewServeCmd(global *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve agent builds over HTTP",
		Long: `Serve agent builds on ` + server.DownloadPath + `. Build parameters are taken from
the request headers (file, platform, gocat-variant, gocat-extensions,
includeProxyPeers, server, group, listenP2P, c2). Send "x-library: true" to
build the shared library instead of the executable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if !a.toolchain.Available() {
				a.logger.WarnContext(ctx, "go toolchain not available, serving prebuilt artifacts only")
			}
			if err := a.discover(ctx); err != nil {
				return err
			}

			var limiter *server.RateLimiter
			if rl := a.config.RateLimit; rl != nil {
				limiter = server.NewRateLimiter(rl.RPS, rl.Burst)
			}

			srv := server.New(a.compiler, server.Options{
				Limiter: limiter,
				Logger:  a.logger.With("component", "server"),
			})

			addr := a.config.Listen
			if listen != "" {
				addr = listen
			}
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				return fmt.Errorf("failed to serve: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address, overrides the config file")

	return cmd
}
