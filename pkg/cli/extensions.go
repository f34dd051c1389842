package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewExtensionsCmd creates the extensions command
func NewExtensionsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Inspect extension modules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the extension modules that can be compiled in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := a.discover(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			names := a.registry.Names()
			if len(names) == 0 {
				fmt.Fprintln(out, "No extension modules available")
				return nil
			}

			bold := color.New(color.Bold)
			for _, name := range names {
				_, _ = bold.Fprint(out, name)
				m, _ := a.registry.Get(name)
				if d, ok := m.(interface{ Description() string }); ok && d.Description() != "" {
					fmt.Fprintf(out, "  %s", d.Description())
				}
				fmt.Fprintln(out)
			}

			return nil
		},
	})

	return cmd
}
