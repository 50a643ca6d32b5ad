package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/KafClaw/threadrelay/internal/routing"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var recordJSON bool

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect routing records",
}

var recordGetCmd = &cobra.Command{
	Use:   "get <origin-key>",
	Short: "Show the routing record for an origin message timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecordStore(cmd, func(ctx context.Context, store routing.Store) (*routing.Record, error) {
			return store.Get(ctx, strings.TrimSpace(args[0]))
		})
	},
}

var recordFindCmd = &cobra.Command{
	Use:   "find <channel> <thread-ts>",
	Short: "Find the routing record owning a derived thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := routing.ThreadRef{Channel: strings.TrimSpace(args[0]), TS: strings.TrimSpace(args[1])}
		return withRecordStore(cmd, func(ctx context.Context, store routing.Store) (*routing.Record, error) {
			return store.FindByDerivedThread(ctx, ref)
		})
	},
}

func init() {
	recordCmd.PersistentFlags().BoolVar(&recordJSON, "json", false, "print the record as JSON")
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordFindCmd)
}

func withRecordStore(cmd *cobra.Command, fetch func(context.Context, routing.Store) (*routing.Record, error)) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := fetch(cmd.Context(), store)
	if errors.Is(err, routing.ErrNotFound) {
		return fmt.Errorf("no routing record found")
	}
	if err != nil {
		return err
	}
	if recordJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printRecord(cmd.OutOrStdout(), rec)
	return nil
}

func printRecord(w io.Writer, rec *routing.Record) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s/%s\n", bold("Origin:"), rec.OriginChannel, rec.OriginKey)
	fmt.Fprintf(w, "%s %s\n", bold("Created:"), rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "%s %s\n", bold("Updated:"), rec.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "%s %d\n", bold("Deliveries:"), len(rec.Deliveries))
	if len(rec.Deliveries) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, d := range rec.Deliveries {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Recipient, d.Endpoint, d.Thread)
		}
		_ = tw.Flush()
	}
	if len(rec.Unresolved) > 0 {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("Unresolved:"), strings.Join(rec.Unresolved, ", "))
	}
}
