// Package cli implements the sandbuild command line.
package cli

import (
	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by every command
type globalOptions struct {
	configFile string
	baseDir    string
	logLevel   string
}

// NewRootCmd creates the root sandbuild command
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "sandbuild",
		Short: "On-demand agent build service",
		Long: `sandbuild compiles customized agents on request. Each build picks a variant,
embeds per-build keys and peer information through linker flags, and compiles
in the extension modules the variant and request ask for.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Service config file")
	rootCmd.PersistentFlags().StringVar(&opts.baseDir, "base-dir", ".", "Agent source tree, used when no config file is given")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the config file")

	rootCmd.AddCommand(NewServeCmd(opts))
	rootCmd.AddCommand(NewBuildCmd(opts))
	rootCmd.AddCommand(NewExtensionsCmd(opts))
	rootCmd.AddCommand(NewPeersCmd(opts))
	rootCmd.AddCommand(NewVariantsCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
