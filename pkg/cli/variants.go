package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/sandbuild/sandbuild/pkg/variant"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// NewVariantsCmd creates the variants command
func NewVariantsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variants",
		Short: "Inspect agent variants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the configured and builtin variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			files, err := a.variants.List()
			if err != nil {
				return fmt.Errorf("failed to list variants: %w", err)
			}

			out := cmd.OutOrStdout()
			yellow := color.New(color.FgYellow)
			for _, name := range files {
				fmt.Fprintln(out, name)
			}
			for _, name := range variant.ListBuiltinNames() {
				if slices.Contains(files, name) {
					continue
				}
				fmt.Fprint(out, name)
				_, _ = yellow.Fprintln(out, " (builtin)")
			}

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a variant config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			source := variant.ChainSource{a.variants, variant.BuiltinSource{}}
			cfg, err := source.Load(cmd.Context(), args[0])
			if errors.Is(err, variant.ErrNotFound) {
				return fmt.Errorf("variant '%s' not found", args[0])
			}
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, _ = cmd.OutOrStdout().Write(data)

			return nil
		},
	})

	return cmd
}
