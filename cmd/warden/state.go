package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/warden/internal/config"
	"github.com/memohai/warden/internal/logger"
	"github.com/memohai/warden/internal/policy"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted policy state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the persisted state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := loadState(cmd.Context(), configFlag(cmd))
			if err != nil {
				return err
			}
			return dumpState(cmd.OutOrStdout(), state)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify every registered user has a record and vice versa",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := loadState(cmd.Context(), configFlag(cmd))
			if err != nil {
				return err
			}
			return checkState(cmd.OutOrStdout(), state)
		},
	})
	return cmd
}

func loadState(ctx context.Context, path string) (policy.State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return policy.State{}, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(io.Discard, cfg.Log.Level, cfg.Log.Format)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	persister, closeFn, err := openPersister(ctx, log, cfg.Storage)
	if err != nil {
		return policy.State{}, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer closeFn()
	state, err := persister.Load(ctx)
	if err != nil {
		return policy.State{}, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

func dumpState(w io.Writer, state policy.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func checkState(w io.Writer, state policy.State) error {
	missingRecord, missingRegistration := policy.CheckInvariant(state)
	if len(missingRecord) == 0 && len(missingRegistration) == 0 {
		_, _ = fmt.Fprintf(w, "ok: %d registered, %d records, %d groups\n", len(state.Registered), len(state.Users), len(state.Groups))
		return nil
	}
	if len(missingRecord) > 0 {
		_, _ = fmt.Fprintf(w, "registered without record: %s\n", strings.Join(missingRecord, ", "))
	}
	if len(missingRegistration) > 0 {
		_, _ = fmt.Fprintf(w, "record without registration: %s\n", strings.Join(missingRegistration, ", "))
	}
	return fmt.Errorf("state invariant violated (%d issues)", len(missingRecord)+len(missingRegistration))
}
