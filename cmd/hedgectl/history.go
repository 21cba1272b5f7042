package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"hedge/services/lendingd/indexer"
)

type indexerFlags struct {
	driver string
	dsn    string
}

func (f *indexerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.driver, "driver", "sqlite", "indexer database driver (sqlite or postgres)")
	cmd.Flags().StringVar(&f.dsn, "dsn", "data/lendingd-events.db", "indexer database DSN")
}

func (f *indexerFlags) open() (*indexer.Indexer, error) {
	return indexer.Open(f.driver, f.dsn, nil)
}

func newExportCommand() *cobra.Command {
	var (
		db        indexerFlags
		out       string
		owner     string
		eventType string
		since     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export indexed market events to a parquet file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := indexer.Filter{Owner: owner, Type: eventType}
			if since != "" {
				ts, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("since: %w", err)
				}
				filter.Since = ts
			}
			ix, err := db.open()
			if err != nil {
				return err
			}
			defer ix.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := ix.ExportParquet(ctx, out, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to %s\n", n, out)
			return nil
		},
	}
	db.register(cmd)
	cmd.Flags().StringVar(&out, "out", "lending-events.parquet", "output parquet file")
	cmd.Flags().StringVar(&owner, "owner", "", "only export events of this owner")
	cmd.Flags().StringVar(&eventType, "type", "", "only export this event type")
	cmd.Flags().StringVar(&since, "since", "", "only export events at or after this RFC3339 time")
	return cmd
}

func newLeaderboardCommand() *cobra.Command {
	var (
		db    indexerFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank owners by indexed market activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ix, err := db.open()
			if err != nil {
				return err
			}
			defer ix.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rows, err := ix.Activity(ctx, limit)
			if err != nil {
				return err
			}
			p := message.NewPrinter(language.English)
			out := cmd.OutOrStdout()
			p.Fprintf(out, "%-4s %-48s %8s %8s %8s %8s %8s %8s\n", "#", "OWNER", "EVENTS", "DEPOSIT", "BORROW", "REPAY", "WITHDRAW", "LIQ")
			for i, row := range rows {
				p.Fprintf(out, "%-4d %-48s %8d %8d %8d %8d %8d %8d\n", i+1, row.Owner, row.Events, row.Deposits, row.Borrows, row.Repays, row.Withdrawals, row.Liquidations)
			}
			return nil
		},
	}
	db.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "number of owners to show")
	return cmd
}
