package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/CaioWing/Ledger/internal/config"
	"github.com/CaioWing/Ledger/internal/ledger"
	"github.com/CaioWing/Ledger/internal/repository"
	"github.com/CaioWing/Ledger/internal/repository/postgres"
	"github.com/CaioWing/Ledger/internal/repository/sqlite"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Diagnostics go to stderr so stdout stays machine readable.
var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

var rootCmd = &cobra.Command{
	Use:          "ledgerctl",
	Short:        "Operate a Ledger activity store",
	SilenceUsage: true,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the activity chain and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetInt64("start")
		end, _ := cmd.Flags().GetInt64("end")
		collectAll, _ := cmd.Flags().GetBool("collect-all")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		keys, err := cfg.Ledger.Keyring()
		if err != nil {
			return err
		}

		repo, closeStore, err := repository.Open(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()

		verifier := ledger.NewVerifier(repo, keys, log)
		return runVerify(cmd.Context(), verifier, ledger.VerifyOptions{
			Start:      start,
			End:        end,
			CollectAll: collectAll,
		}, cmd.OutOrStdout())
	},
}

// runVerify prints the report as JSON and fails when the chain is not intact.
func runVerify(ctx context.Context, verifier *ledger.Verifier, opts ledger.VerifyOptions, out io.Writer) error {
	report, err := verifier.Verify(ctx, opts)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if !report.Valid {
		return fmt.Errorf("chain verification failed: %d finding(s), first at sequence %d",
			len(report.Findings), report.Findings[0].SequenceNumber)
	}
	return nil
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random HMAC signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("bytes")
		id, _ := cmd.Flags().GetString("id")
		return generateKey(cmd.OutOrStdout(), nil, size, id)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the activity store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if cfg.Ledger.Store == config.StoreSQLite {
			db, err := sqlite.Open(cfg.Ledger.SQLitePath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := sqlite.MigrateUp(db); err != nil {
				return err
			}
		} else if err := postgres.RunMigrations(cfg.DB.DSN()); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		version, dirty, err := repository.MigrationStatus(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "store:   %s\nversion: %d\ndirty:   %t\n", cfg.Ledger.Store, version, dirty)
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64("start", 0, "first sequence number to verify (default: first record)")
	verifyCmd.Flags().Int64("end", 0, "last sequence number to verify (default: latest record)")
	verifyCmd.Flags().Bool("collect-all", false, "report every finding instead of stopping at the first")

	keygenCmd.Flags().Int("bytes", 32, "number of random bytes")
	keygenCmd.Flags().String("id", "v1", "key id")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(migrateCmd)
}
