// main.go
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mannyrivera2010/go-ontovault/internal/config"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/backup"
	"github.com/mannyrivera2010/go-ontovault/pkg/duplicate"
	"github.com/mannyrivera2010/go-ontovault/pkg/integrity"
	"github.com/mannyrivera2010/go-ontovault/pkg/ontology"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// --- 1. STORE ---
// The coordinator is opened once per invocation from the configuration.

var (
	cfg   config.Config
	store *ontology.Coordinator
)

func newLogger(c config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, c config.Config) (*ontology.Coordinator, error) {
	logger := newLogger(c)
	slog.SetDefault(logger)
	return ontology.Open(ctx, ontology.OpenOptions{
		FS:                 fsutil.OS(),
		BackupDir:          c.BackupDir,
		BackupFallbackDirs: c.BackupFallbackDirs,
		MaxBackups:         c.MaxBackups,
		MinInterval:        c.MinInterval,
		Checksum:           integrity.Algorithm(c.Checksum),
		Strategy:           backup.Strategy(c.Strategy),
		History:            c.History,
		HistoryPath:        c.HistoryPath,
		Policy:             duplicate.Policy(c.ConflictPolicy),
		FallbackDirs:       c.FallbackDirs,
		ParseTimeout:       c.ParseTimeout,
		BaseNamespace:      c.BaseNamespace,
		Logger:             logger,
	})
}

// exit closes the store before terminating, since deferred calls and
// PersistentPostRun are skipped by os.Exit.
func exit(code int) {
	if store != nil {
		store.Close()
	}
	os.Exit(code)
}

func fatalf(format string, args ...any) {
	log.Printf(format, args...)
	exit(1)
}

// targetArg returns the file named on the command line, or the configured target.
func targetArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.TargetFile
}

// --- 2. CLI COMMANDS ---

var rootCmd = &cobra.Command{
	Use:   "ontovault",
	Short: "Merge graphs into Turtle files behind verified, versioned backups",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(fsutil.OS(), path)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.LogLevel = level
		}
		// 'init' writes the configuration and needs no store.
		if cmd.Name() == "init" {
			return nil
		}
		store, err = openStore(cmd.Context(), cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		fs := fsutil.OS()
		path, err := fsutil.Abs(config.DefaultFile)
		if err != nil {
			log.Fatal(err)
		}
		if fsutil.Exists(fs, path) {
			log.Fatalf("Configuration %s already exists.", path)
		}
		data, err := yaml.Marshal(config.Default())
		if err != nil {
			log.Fatalf("Failed to encode configuration: %v", err)
		}
		if err := fsutil.WriteFileAtomic(fs, path, data, 0644); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <file.ttl>",
	Short: "Merge the triples of a Turtle file into the target graph file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		incoming, res := store.Load(ctx, args[0])
		if incoming == nil {
			fatalf("Cannot read %s: %v", args[0], res.Errors)
		}
		target, _ := cmd.Flags().GetString("target")
		if target == "" {
			target = cfg.TargetFile
		}

		result := store.Merge(ctx, incoming, target)
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if !result.Success {
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", e)
			}
			exit(1)
		}
		fmt.Printf("Merged %s into %s\n", args[0], result.ActualPath)
		fmt.Printf("  new: %d  duplicate: %d  total: %d\n",
			result.NewTripleCount, result.DuplicateTripleCount, result.MergedTripleCount)
		fmt.Printf("  exact: %d  similar: %d  conflict: %d\n",
			result.Summary.Exact, result.Summary.Similar, result.Summary.Conflict)
		if result.BackupPath != "" {
			fmt.Printf("  backup: %s\n", result.BackupPath)
		}
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup [file]",
	Short: "Create a backup of a graph file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		var (
			rec backup.Record
			err error
		)
		if force {
			rec, err = store.Backups().Force(cmd.Context(), targetArg(args), backup.Strategy(cfg.Strategy))
		} else {
			rec, err = store.Backup(cmd.Context(), targetArg(args))
		}
		if err != nil {
			fatalf("Backup failed (%s): %v", backup.KindOf(err), err)
		}
		fmt.Printf("[%s] %s\n", rec.ID, rec.BackupFile)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore a verified backup over its original file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		to, _ := cmd.Flags().GetString("to")
		if err := store.Restore(cmd.Context(), args[0], to); err != nil {
			fatalf("Restore failed (%s): %v", backup.KindOf(err), err)
		}
		fmt.Printf("Restored backup %s\n", args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list [file]",
	Short: "Show backup history",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		file := targetArg(args)
		if all {
			file = ""
		}
		records, err := store.ListBackups(cmd.Context(), file)
		if err != nil {
			fatalf("Failed to read backup history: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTRATEGY\tDATE\tSIZE\tFILE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.ID, r.Status, r.Strategy, r.Timestamp.Format(time.RFC1123Z), r.FileSize, r.BackupFile)
		}
		w.Flush()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a graph file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res := store.Validate(cmd.Context(), targetArg(args))
		fmt.Printf("valid: %t  triples: %d  classes: %d  properties: %d\n",
			res.Valid, res.TripleCount, res.ClassCount, res.PropertyCount)
		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e)
		}
		if !res.Valid {
			exit(1)
		}
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair [file]",
	Short: "Restore an invalid graph file from its newest good backup",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res := store.ValidateAndRepair(cmd.Context(), targetArg(args))
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e)
		}
		switch {
		case !res.Success:
			exit(1)
		case res.Repaired:
			fmt.Printf("Repaired from backup %s\n", res.BackupID)
		default:
			fmt.Println("File is valid, nothing to repair")
		}
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Re-hash every successful backup and compare it with its record",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		results, err := store.VerifyBackups(cmd.Context(), targetArg(args))
		if err != nil {
			fatalf("Verification failed: %v", err)
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("FAIL %s %s: %v\n", r.Record.ID, r.Record.BackupFile, r.Err)
				continue
			}
			fmt.Printf("ok   %s %s\n", r.Record.ID, r.Record.BackupFile)
		}
		if failed > 0 {
			exit(1)
		}
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [file]",
	Short: "Delete backups beyond the retention limit",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.CleanupBackups(cmd.Context(), targetArg(args)); err != nil {
			fatalf("Cleanup failed: %v", err)
		}
		orphans, err := store.Backups().Orphans(cmd.Context(), targetArg(args))
		if err != nil {
			fatalf("Failed to scan backup directory: %v", err)
		}
		for _, o := range orphans {
			fmt.Printf("untracked backup: %s\n", o)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Repair a graph file whenever it is corrupted on disk",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := store.Watch(ctx, targetArg(args), func(res ontology.RepairResult) {
			if res.Repaired {
				fmt.Printf("Repaired from backup %s\n", res.BackupID)
			} else if !res.Success {
				fmt.Fprintf(os.Stderr, "File is invalid and could not be repaired: %v\n", res.Errors)
			}
		})
		if err != nil {
			fatalf("Watch failed: %v", err)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "configuration file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	mergeCmd.Flags().StringP("target", "t", "", "graph file to merge into (default from configuration)")
	backupCmd.Flags().BoolP("force", "f", false, "ignore the minimum backup interval")
	restoreCmd.Flags().String("to", "", "restore to this path instead of the original file")
	listCmd.Flags().BoolP("all", "a", false, "list the backups of every file")

	rootCmd.AddCommand(initCmd, mergeCmd, backupCmd, restoreCmd, listCmd,
		validateCmd, repairCmd, verifyCmd, cleanupCmd, watchCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
