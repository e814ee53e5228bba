package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashendes/petadoption-payments/internal/config"
	"github.com/ashendes/petadoption-payments/internal/ledger/sqlite"
	"github.com/spf13/cobra"
)

var (
	pendingOlderThan time.Duration
	pendingLimit     int
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger migrations to LEDGER_PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfiguredLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger migrations applied")
			return nil
		},
	}
}

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions left pending, for reconciliation",
		Long: `List transactions that are still pending after --older-than.

A transaction stays pending when the process stopped between accepting it and
recording the gateway outcome. Each line is one transaction as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfiguredLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			txns, err := store.ListPending(cmd.Context(), time.Now().Add(-pendingOlderThan), pendingLimit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, txn := range txns {
				if err := enc.Encode(txn); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&pendingOlderThan, "older-than", time.Hour, "only list transactions created before now minus this duration")
	cmd.Flags().IntVarP(&pendingLimit, "limit", "n", 100, "maximum results")

	return cmd
}

func openConfiguredLedger(ctx context.Context) (*sqlite.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	if cfg.LedgerPath == "" {
		return nil, errors.New("LEDGER_PATH is required")
	}
	return sqlite.Open(ctx, cfg.LedgerPath)
}
