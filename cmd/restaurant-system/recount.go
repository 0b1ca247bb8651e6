package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"restaurant-system/internal/config"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/tracker/service"
)

var (
	recountTenant string
	recountDryRun bool
)

var recountCmd = &cobra.Command{
	Use:   "recount",
	Short: "Rebuild a tenant's cached status counts from its orders",
	Long: `recount scans every order of the tenant, compares the result with the
cached counts and stores the scanned values. With --dry-run the cache is
left untouched and only the comparison is printed.`,
	RunE: runRecount,
}

func init() {
	recountCmd.Flags().StringVar(&recountTenant, "tenant", "", "tenant (restaurant) id")
	recountCmd.Flags().BoolVar(&recountDryRun, "dry-run", false, "compare only, do not write")
	_ = recountCmd.MarkFlagRequired("tenant")
}

func runRecount(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == config.BackendMemory {
		return errors.New("recount needs a persistent storage backend")
	}
	log, err := newLogger(cfg, "recount")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	svc := service.New(store, log, metrics.NewRegistry())
	var res service.Recomputed
	if recountDryRun {
		res, err = svc.TrackerService.VerifyCounts(ctx, recountTenant)
	} else {
		res, err = svc.TrackerService.RecomputeCounts(ctx, recountTenant)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
