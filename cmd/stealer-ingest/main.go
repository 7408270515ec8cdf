// Command stealer-ingest loads stealer-log archives into a database.
//
//	stealer-ingest ingest --config config.yaml 'drop/**/*.zip'
//	stealer-ingest watch --config config.yaml drop/
//	stealer-ingest uploads --limit 20
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"stealer-ingest/ingest"
)

type globalFlags struct {
	configPath string
	debug      bool
	dbDriver   string
	dbDSN      string
	dictionary string
	workers    int
	timeout    time.Duration
}

func main() {
	var gf globalFlags
	rootCmd := &cobra.Command{
		Use:           "stealer-ingest",
		Short:         "Ingest stealer-log archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&gf.configPath, "config", "", "YAML config file path")
	pf.BoolVar(&gf.debug, "debug", false, "enable debug logs")
	pf.StringVar(&gf.dbDriver, "db-driver", "", "database driver: sqlite or mysql")
	pf.StringVar(&gf.dbDSN, "db", "", "database DSN (sqlite file path or mysql DSN)")
	pf.StringVar(&gf.dictionary, "dictionary", "", "stealer name list file")
	pf.IntVar(&gf.workers, "workers", 0, "archives processed concurrently")
	pf.DurationVar(&gf.timeout, "timeout", 0, "overall timeout for one run (e.g. 30s, 2m)")

	rootCmd.AddCommand(ingestCommand(&gf), watchCommand(&gf), uploadsCommand(&gf))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ingestCommand(gf *globalFlags) *cobra.Command {
	var errorDir, doneDir string
	cmd := &cobra.Command{
		Use:   "ingest [glob...]",
		Short: "Ingest every archive matched by the globs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Inputs = args
			}
			overrideString(cmd, "error-dir", &cfg.ErrorDir, errorDir)
			overrideString(cmd, "done-dir", &cfg.DoneDir, doneDir)

			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := app.runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			if stats.ArchivesFailed > 0 {
				return errors.Errorf("%d of %d archives failed", stats.ArchivesFailed, stats.ArchivesSeen)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&errorDir, "error-dir", "", "move failed archives here")
	cmd.Flags().StringVar(&doneDir, "done-dir", "", "move ingested archives here")
	return cmd
}

func watchCommand(gf *globalFlags) *cobra.Command {
	var debounce time.Duration
	var errorDir, doneDir string
	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Ingest existing archives, then ingest new ones as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Inputs = nil
				for _, d := range args {
					cfg.Inputs = append(cfg.Inputs, filepath.Join(d, "*.zip"))
				}
			}
			if cmd.Flags().Changed("debounce") {
				cfg.Debounce = debounce
			}
			overrideString(cmd, "error-dir", &cfg.ErrorDir, errorDir)
			overrideString(cmd, "done-dir", &cfg.DoneDir, doneDir)

			dirs := watchDirs(cfg.Inputs)
			if len(dirs) == 0 {
				return errors.New("missing directories to watch (use args or config inputs)")
			}

			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.close()

			w, err := ingest.NewWatcher(app.runner, dirs, cfg.Debounce, app.log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before a new archive is processed")
	cmd.Flags().StringVar(&errorDir, "error-dir", "", "move failed archives here")
	cmd.Flags().StringVar(&doneDir, "done-dir", "", "move ingested archives here")
	return cmd
}

func uploadsCommand(gf *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List recent uploads and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			log, err := ingest.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			db, err := ingest.OpenDB(cfg.Database.Driver, cfg.Database.DSN, log)
			if err != nil {
				return err
			}
			store := ingest.NewGormStore(db)
			defer store.Close()

			uploads, err := store.ListUploads(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tFILENAME\tSTATUS\tSTRUCTURE\tDEVICES\tFAILED\tCREDENTIALS\tSOFTWARE\tERROR")
			for _, u := range uploads {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
					u.CreatedAt.Format(time.RFC3339), u.Filename, u.Status, u.StructureType,
					u.DevicesProcessed, u.DevicesFound, u.DevicesFailed,
					u.CredentialsCount, u.SoftwareCount, u.ErrorMessage)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of uploads to list")
	return cmd
}

// loadConfig reads the optional config file, applies explicitly set global
// flags on top, then fills defaults.
func loadConfig(cmd *cobra.Command, gf *globalFlags) (*ingest.FileConfig, error) {
	cfg := &ingest.FileConfig{}
	if gf.configPath != "" {
		loaded, err := ingest.LoadConfig(gf.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	overrideString(cmd, "db-driver", &cfg.Database.Driver, gf.dbDriver)
	overrideString(cmd, "db", &cfg.Database.DSN, gf.dbDSN)
	overrideString(cmd, "dictionary", &cfg.Dictionary, gf.dictionary)
	if cmd.Flags().Changed("workers") {
		cfg.Workers = gf.workers
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = gf.timeout
	}
	if cmd.Flags().Changed("debug") && gf.debug {
		cfg.Log.Level = "debug"
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func overrideString(cmd *cobra.Command, name string, dst *string, v string) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

// watchDirs derives the directories to watch from the input globs: the
// longest glob-free prefix of each.
func watchDirs(inputs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, in := range inputs {
		dir := filepath.Dir(in)
		for strings.ContainsAny(dir, "*?[") {
			dir = filepath.Dir(dir)
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	return out
}

type app struct {
	log    *logrus.Logger
	store  *ingest.GormStore
	runner *ingest.Runner
}

func newApp(cfg *ingest.FileConfig) (*app, error) {
	log, err := ingest.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	if len(cfg.Inputs) == 0 {
		return nil, errors.New("missing inputs (use args or config inputs)")
	}

	fsys := afero.NewOsFs()
	dict := ingest.NewStealerDictionary(nil)
	if strings.TrimSpace(cfg.Dictionary) != "" {
		dict, err = ingest.LoadStealerDictionary(fsys, cfg.Dictionary)
		switch {
		case errors.Is(err, ingest.ErrEmptyDictionary):
			log.WithField("path", cfg.Dictionary).Warn("stealer dictionary is empty, every stealer will be Unknown")
		case err != nil:
			return nil, err
		}
	} else {
		log.Warn("no stealer dictionary configured, every stealer will be Unknown")
	}
	log.WithField("names", dict.Len()).Debug("stealer dictionary loaded")

	db, err := ingest.OpenDB(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, err
	}
	store := ingest.NewGormStore(db)

	coord := ingest.NewCoordinator(fsys, store, dict, log, ingest.CoordinatorOptions{
		BatchSize:        cfg.BatchSize,
		SkipKnownDevices: *cfg.SkipKnownDevices,
		MaxTextBytes:     cfg.MaxTextBytes,
	})
	runner, err := ingest.NewRunner(ingest.RunnerConfig{
		Inputs:   cfg.Inputs,
		ErrorDir: cfg.ErrorDir,
		DoneDir:  cfg.DoneDir,
		Workers:  cfg.Workers,
		Timeout:  cfg.Timeout,
	}, fsys, coord, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{log: log, store: store, runner: runner}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("closing database")
	}
}
