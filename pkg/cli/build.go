package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sandbuild/sandbuild/pkg/build"
	"github.com/sandbuild/sandbuild/pkg/compile"
	"github.com/spf13/cobra"
)

// NewBuildCmd creates the build command
func NewBuildCmd(global *globalOptions) *cobra.Command {
	var (
		req     build.Request
		library bool
		output  string

		peers, server, group, listenP2P, c2 string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build one agent",
		Long: `Build one agent the same way a request to the server would, and write it to
--output or report where it was stored.

Examples:
  sandbuild build --file sandcat.go --platform linux --variant red
  sandbuild build --file sandcat.go --platform windows --c2 HTTP --peers '!SmbPipe' -o agent.exe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()

			optional := map[string]**string{
				"peers":      &req.PeerFilter,
				"server":     &req.Server,
				"group":      &req.Group,
				"listen-p2p": &req.ListenP2P,
				"c2":         &req.C2,
			}
			values := map[string]string{
				"peers":      peers,
				"server":     server,
				"group":      group,
				"listen-p2p": listenP2P,
				"c2":         c2,
			}
			for name, field := range optional {
				if flags.Changed(name) {
					v := values[name]
					*field = &v
				}
			}

			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := a.discover(ctx); err != nil {
				return err
			}

			compileFn := a.compiler.CompileExecutable
			if library {
				compileFn = a.compiler.CompileLibrary
			}

			data, err := compileFn(ctx, &req)
			if errors.Is(err, compile.ErrArtifactNotFound) && !a.toolchain.Available() {
				return fmt.Errorf("%w (go toolchain not available)", err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			green := color.New(color.FgGreen)
			if output == "" {
				_, _ = green.Fprintf(out, "✓ Built %s for %s (%d bytes)\n", req.File, req.Platform, len(data))
				return nil
			}

			if err := os.WriteFile(output, data, 0755); err != nil {
				return fmt.Errorf("failed to write agent: %w", err)
			}
			_, _ = green.Fprintf(out, "✓ Built %s for %s -> %s\n", req.File, req.Platform, output)

			return nil
		},
	}

	cmd.Flags().StringVarP(&req.File, "file", "f", "sandcat.go", "Agent entrypoint and artifact name")
	cmd.Flags().StringVarP(&req.Platform, "platform", "p", "", "Target platform (linux, darwin, windows)")
	cmd.Flags().StringVar(&req.Variant, "variant", "", "Variant config name")
	cmd.Flags().StringVar(&req.Extensions, "extensions", "", "Comma-separated extension modules to add")
	cmd.Flags().StringVar(&peers, "peers", "", `Proxy peer filter: "all", "a,b" or "!a,b"`)
	cmd.Flags().StringVar(&server, "server", "", "C2 server address")
	cmd.Flags().StringVar(&group, "group", "", "Agent group")
	cmd.Flags().StringVar(&listenP2P, "listen-p2p", "", "Start peer-to-peer proxy listeners (true, false)")
	cmd.Flags().StringVar(&c2, "c2", "", "C2 protocol")
	cmd.Flags().BoolVar(&library, "library", false, "Build the shared library instead of the executable")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the agent to this path")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}
