package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/threadrelay/internal/recipients"
	"github.com/spf13/cobra"
)

var extractFile string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print the recipient identifiers found in a message (stdin or --file)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var data []byte
		if extractFile != "" {
			data, err = os.ReadFile(extractFile)
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		ids := recipients.NewExtractor(cfg.Relay.StartMarker, cfg.Relay.EndMarker).Extract(string(data))
		if len(ids) == 0 {
			return fmt.Errorf("no recipient block found")
		}
		for _, id := range ids.Sorted() {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "read the message from a file")
}
