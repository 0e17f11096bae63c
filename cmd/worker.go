package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Worker command flags
	maintenanceInterval time.Duration
	rollupInterval      time.Duration
	purgeInterval       time.Duration
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the background worker that signs uploaded firmware, regenerates
stale update catalogs and rolls up client update reports.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().DurationVar(&maintenanceInterval, "maintenance-interval", 5*time.Minute,
		"How often firmware is signed and catalogs regenerated")
	workerCmd.Flags().DurationVar(&rollupInterval, "rollup-interval", 24*time.Hour,
		"How often report counters are rolled up")
	workerCmd.Flags().DurationVar(&purgeInterval, "purge-interval", 24*time.Hour,
		"How often deleted firmware past retention is purged")
}

func runWorker(cmd *cobra.Command, args []string) error {
	comps, err := initComponents("firmware-worker")
	if err != nil {
		return errors.Wrap(err, "failed to initialize worker components")
	}
	defer comps.close()

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return errors.Wrap(err, "failed to create scheduler")
		}

		// Signing before publication so freshly signed firmware lands in
		// the same catalog rebuild
		_, err = scheduler.NewJob(
			gocron.DurationJob(maintenanceInterval),
			gocron.NewTask(func() { runMaintenanceCycle(ctx, comps) }),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule maintenance job")
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(rollupInterval),
			gocron.NewTask(func() {
				log.Info("Rolling up update reports")
				if err := comps.firmware.RollupReports(ctx); err != nil {
					log.WithError(err).Error("Report rollup failed")
				}
			}),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule rollup job")
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(purgeInterval),
			gocron.NewTask(func() {
				log.Info("Purging deleted firmware past retention")
				if err := comps.firmware.PurgeDeleted(ctx); err != nil {
					log.WithError(err).Error("Purge failed")
				}
			}),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule purge job")
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Worker error")
		return err
	}

	log.Info("Worker shutting down gracefully")
	return nil
}

// runMaintenanceCycle runs one sign-then-publish pass
func runMaintenanceCycle(ctx context.Context, comps *components) {
	if err := comps.signing.SignPending(ctx); err != nil {
		log.WithError(err).Error("Firmware signing failed")
	}
	if err := comps.publish.RegenerateDirty(ctx); err != nil {
		log.WithError(err).Error("Catalog regeneration failed")
	}
	if comps.cfg.Publish.PulpManifest {
		if err := comps.publish.UpdatePulpManifest(ctx); err != nil {
			log.WithError(err).Error("Mirror manifest update failed")
		}
	}
}
