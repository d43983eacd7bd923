// Package commands wires the CLI. lomigrate is a single-purpose tool, so
// there are no subcommands: the root command runs the migration.
package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tocco/lomigrate/internal/logger"
	"github.com/tocco/lomigrate/pkg/config"
	"github.com/tocco/lomigrate/pkg/metrics"
	"github.com/tocco/lomigrate/pkg/migrate"
	"github.com/tocco/lomigrate/pkg/store/pg"
	"github.com/tocco/lomigrate/pkg/store/s3"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "lomigrate",
	Short: "Postgres Large Object to S3 migrator",
	Long: `lomigrate moves every binary referenced by the _nice_binary table out of
Postgres Large Object storage into an S3-compatible bucket, re-keying each
blob from its legacy SHA-1 to a freshly computed SHA-256.

The tool is resumable: the sha2 column is only written after the object
exists in the bucket, so an interrupted run can simply be started again.
Rows whose sha2 is already set are skipped.

All flags can also be provided as environment variables with the LOMIGRATE_
prefix (dashes become underscores), e.g. LOMIGRATE_SECRET_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigration,
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects the build-time version information.
func SetVersion(version, commit, date string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func init() {
	f := rootCmd.Flags()

	f.StringP("s3-url", "u", "", "URL of the S3 endpoint (required)")
	f.StringP("access-key", "k", "", "S3 access key (required)")
	f.StringP("secret-key", "s", "", "S3 secret key (required)")
	f.StringP("bucket", "b", "", "name of the S3 bucket (required)")
	f.StringP("pg-url", "p", "", "Postgres connection (USER:PASS@HOST/DB_NAME) (required)")

	f.Int("receiver-threads", migrate.DefaultReceiverThreads, "number of receiver threads")
	f.Int("storer-threads", migrate.DefaultStorerThreads, "number of storer threads")
	f.Int("committer-threads", migrate.DefaultCommitterThreads, "number of committer threads")
	f.Int("receiver-queue", migrate.DefaultReceiverQueue, "size of the receiver queue")
	f.Int("storer-queue", migrate.DefaultStorerQueue, "size of the storer queue (each slot may hold a payload)")
	f.Int("committer-queue", migrate.DefaultCommitterQueue, "size of the committer queue")
	f.Int("commit-chunk", migrate.DefaultCommitChunk, "number of SHA2 hashes committed per DB transaction")
	f.Int64("in-mem-max", 1024, "max. size of an object kept in memory (in KiB); larger objects are buffered in scratch files")
	f.IntP("interval", "i", 10, "interval in which stats are shown (in secs)")
	f.BoolP("finalize", "f", false, "create UNIQUE INDEX and NOT NULL constraint after a clean run")
	f.Int("metrics-port", 0, "expose Prometheus metrics on this port (0 = disabled)")
	f.String("log-level", "WARN", "log level: DEBUG, INFO, WARN, ERROR")
	f.String("log-format", "text", "log format: text or json")

	config.SetDefaults(v)
	v.SetEnvPrefix("LOMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return err
	}

	fmt.Print(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to both sides before any worker starts, so configuration
	// errors abort the run up front. The pool covers the observer, the
	// counter and every receiver and committer.
	poolConns := cfg.ReceiverThreads + cfg.CommitterThreads + 2
	source, err := pg.Connect(ctx, pg.Config{
		URL:      cfg.PostgresURL,
		MaxConns: int32(poolConns),
	})
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := s3.New(ctx, s3.Config{
		Endpoint:  cfg.S3URL,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
	})
	if err != nil {
		return err
	}
	if err := target.Ping(ctx); err != nil {
		return err
	}

	if err := source.EnsureSha2Column(ctx); err != nil {
		return err
	}
	if err := source.CheckBatchJobDisabled(ctx); err != nil {
		return err
	}

	p := migrate.New(cfg.Pipeline(), source, target)

	if cfg.MetricsPort > 0 {
		reg := metrics.NewRegistry(p.Stats(), p.Queues())
		go metrics.Serve(ctx, cfg.MetricsPort, reg)
	}

	runErr := p.Run(ctx)
	stats := p.Stats()

	fmt.Printf("Objects committed: %d, dropped: %d, already migrated: %d\n",
		stats.Committed(), stats.Dropped(), stats.Stale())

	if runErr != nil {
		return runErr
	}
	if stats.Dropped() > 0 {
		return fmt.Errorf("%d objects failed to be migrated; rerun the migration and check for errors",
			stats.Dropped())
	}

	fmt.Print("Adding NOT NULL constraint and UNIQUE INDEX ... ")
	if cfg.Finalize {
		if err := source.Finalize(ctx); err != nil {
			fmt.Println("failed")
			return err
		}
		fmt.Println("done")
	} else {
		fmt.Println("skipping (--finalize not given)")
	}

	fmt.Println("Migration completed")
	return nil
}
