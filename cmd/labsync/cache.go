package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"labsync/internal/app"
	"labsync/internal/logging"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persistent generation cache",
	}
	cmd.AddCommand(newCacheInspectCmd())
	return cmd
}

type inspectedEntry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	Expired   bool      `json:"expired"`
	Fields    []string  `json:"fields"`
}

func newCacheInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List entries in the configured persistent cache backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, cfg.Cache, logging.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load cache: %w", err)
			}

			now := time.Now()
			entries := make([]inspectedEntry, 0, len(records))
			for _, key := range slices.Sorted(maps.Keys(records)) {
				rec := records[key]
				entries = append(entries, inspectedEntry{
					Key:       key,
					CreatedAt: rec.CreatedAt,
					Expired:   now.Sub(rec.CreatedAt) > cfg.Cache.PersistentTTL,
					Fields:    slices.Sorted(maps.Keys(rec.Payload)),
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tCREATED\tEXPIRED\tFIELDS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%t\t%v\n", e.Key, e.CreatedAt.Format(time.RFC3339), e.Expired, e.Fields)
			}
			fmt.Fprintf(w, "%d entries (%s backend)\n", len(entries), cfg.Cache.Backend)
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print entries as JSON")
	return cmd
}
