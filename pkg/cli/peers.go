package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/sandbuild/sandbuild/pkg/peerinfo"
	"github.com/spf13/cobra"
)

// NewPeersCmd creates the peers command
func NewPeersCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Encode and decode proxy peer information",
	}

	var filter string
	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode the receivers of trusted peers as they would be embedded in a build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			payload, err := a.encoder.Encode(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			_, _ = cyan.Fprint(out, "encodedReceivers: ")
			fmt.Fprintln(out, payload.Cipher)
			_, _ = cyan.Fprint(out, "receiverKey:      ")
			fmt.Fprintln(out, payload.Key)

			return nil
		},
	}
	encodeCmd.Flags().StringVar(&filter, "filter", peerinfo.FilterAll, `Protocol filter: "all", "a,b" or "!a,b"`)

	var key string
	decodeCmd := &cobra.Command{
		Use:   "decode <encoded-receivers>",
		Short: "Decode an embedded receiver payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := peerinfo.Decode(args[0], key)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(dir, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			return nil
		},
	}
	decodeCmd.Flags().StringVarP(&key, "key", "k", "", "Receiver key the payload was encoded with")
	_ = decodeCmd.MarkFlagRequired("key")

	cmd.AddCommand(encodeCmd, decodeCmd)

	return cmd
}
