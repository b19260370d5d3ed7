package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/DankTechnologies/AwsBackup/internal/app"
	"github.com/DankTechnologies/AwsBackup/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

// loadConfig reads the config from --config or the default location.
// A config without base_dir gets the default one, so the directories
// derived from it are always set.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := configPath
	if path == "" {
		path = defaults.ConfigPath
	}

	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = defaults.BaseDir
		cfg.ApplyDefaults()
	}
	return cfg, path, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// session tags the log lines of this invocation (e.g. "serve", "run").
func newApp(ctx context.Context, session string, opts app.Options) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts.Session = session
	opts.Stderr = os.Stderr
	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts for the passphrase on the terminal without echo.
func readPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--ask-passphrase needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "Encryption passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("empty passphrase")
	}
	return string(b), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "awsbackup",
	Short:        "Scheduled encrypted backups to S3 cold storage",
	SilenceUsage: true,
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run backups on the configured schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		runNow, _ := cmd.Flags().GetBool("run-now")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, "serve", app.Options{DryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx, runNow)
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one backup now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ask, _ := cmd.Flags().GetBool("ask-passphrase")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := app.Options{DryRun: dryRun}
		if ask {
			p, err := readPassphrase()
			if err != nil {
				return err
			}
			opts.Passphrase = p
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, "run", opts)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ValidateSetup(ctx); err != nil {
			return err
		}

		run, err := a.RunBackup(ctx)
		if err != nil {
			return fmt.Errorf("backup failed in stage %s: %w", run.FailedStage, err)
		}

		fmt.Printf("Uploaded %s (%d bytes, sha256 %s)\n", run.ObjectKey, run.EncryptedSize, run.EncryptedHash)
		fmt.Printf("Look-back window: %d day(s)\n", run.LookbackDays)
		return nil
	},
}

// schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the last and next scheduled run",
	RunE: func(cmd *cobra.Command, args []string) error {
		expr, _ := cmd.Flags().GetString("cron")
		tz, _ := cmd.Flags().GetString("timezone")

		if expr == "" {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			expr = cfg.CronExpression
			if tz == "" {
				tz = cfg.Timezone
			}
		}

		info, err := app.DescribeSchedule(expr, tz, time.Now())
		if err != nil {
			return err
		}

		fmt.Printf("Schedule: %s (%s)\n", info.Expr, info.Location)
		fmt.Printf("Last run: %s  (%d day(s) ago)\n", info.LastRun.Format(time.RFC3339), info.DaysSinceLastRun)
		fmt.Printf("Next run: %s  (in %d day(s))\n", info.NextRun.Format(time.RFC3339), info.DaysUntilNextRun)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent backup runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		j, err := app.OpenJournal(cfg)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer j.Close()

		runs, err := j.ListRuns(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No backup runs recorded.")
			return nil
		}

		for _, r := range runs {
			detail := r.ObjectKey
			if r.Error != "" {
				detail = fmt.Sprintf("[%s] %s", r.FailedStage, r.Error)
			}
			fmt.Printf("#%d  %s  %-9s  %3dd  %s\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.LookbackDays, detail)
		}
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path := configPath
		if path == "" {
			path = defaults.ConfigPath
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.SourceDir, _ = cmd.Flags().GetString("source-dir")
		cfg.Storage.Bucket, _ = cmd.Flags().GetString("bucket")

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("Edit the file before the first run:\n%v\n", err)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Source Dir:  %s\n", cfg.SourceDir)
		fmt.Printf("Temp Dir:    %s\n", cfg.TempDir)
		fmt.Printf("Schedule:    %s\n", cfg.CronExpression)
		fmt.Printf("Find:        %s\n", cfg.FindCommand)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Storage:     %s bucket=%s class=%s\n", cfg.Storage.Type, cfg.Storage.Bucket, cfg.Storage.StorageClass)
		fmt.Printf("Journal:     %s\n", cfg.Database.Type)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nProblems:\n%v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $AWSBACKUP_CONFIG_PATH or ~/.config/awsbackup.toml)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("run-now", false, "Start a backup immediately as well")
	serveCmd.Flags().Bool("dry-run", false, "Keep uploads and history in memory")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("ask-passphrase", false, "Prompt for the encryption passphrase")
	runCmd.Flags().Bool("dry-run", false, "Keep uploads and history in memory")

	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().String("cron", "", "Evaluate this expression instead of the configured one")
	scheduleCmd.Flags().String("timezone", "", "IANA time zone for --cron (default UTC)")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("source-dir", "", "Directory to back up")
	configInitCmd.Flags().String("bucket", "", "S3 bucket to upload to")
	configCmd.AddCommand(configListCmd)
}
