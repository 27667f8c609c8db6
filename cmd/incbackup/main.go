// Command incbackup drives the incremental backup core from the command
// line: canonicalizing paths, mapping the orchestrator's result onto a
// process exit code, and presenting log output to the console. None of
// this lives in core — the core consumes already-canonical absolute
// paths and never touches os.Exit.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcdeltat/incbackup/core"
)

// Exit codes returned to the shell.
const (
	exitSuccess         = 0
	exitWarning         = 1
	exitInvalidArgs     = 2
	exitRuntimeError    = 3
	exitInvariantBroken = 4
)

func fatalUsage(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: %s\n", fmt.Sprintf(format, args...))
	os.Exit(exitInvalidArgs)
}

// canonicalize resolves path to an absolute form and trims any trailing
// separators. The core itself never does this; it expects already
// canonical paths.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(abs, string(filepath.Separator)), nil
}

// exitCodeFor maps an orchestrator result onto a process exit code.
func exitCodeFor(result *core.Result) int {
	switch result.Status {
	case core.StatusSuccess:
		return exitSuccess
	case core.StatusWarning:
		return exitWarning
	case core.StatusInvariantViolation:
		return exitInvariantBroken
	default:
		return exitRuntimeError
	}
}

func reportResult(result *core.Result) int {
	switch result.Status {
	case core.StatusRuntimeError:
		log.Printf("runtime error: %v", result.Err)
		return exitRuntimeError
	case core.StatusInvariantViolation:
		log.Printf("invariant violation: %v", result.Err)
		return exitInvariantBroken
	}

	if result.Warnings != nil {
		for _, w := range result.Warnings.Errors {
			log.Printf("warning: %v", w)
		}
	}

	log.Printf("backup %s: %s (paths_skipped=%v manifest_complete=%v)",
		result.BackupName, result.Status, result.PathsSkipped, result.ManifestComplete)

	return exitCodeFor(result)
}

var rootCommand = &cobra.Command{
	Use:   "incbackup",
	Short: "incbackup takes incremental, metadata-tracked filesystem backups.",
}

var backupCommand = &cobra.Command{
	Use:   "backup <source_dir> <target_dir> [exclude_path...]",
	Short: "Take one incremental backup of source_dir into target_dir",
	Args:  cobra.MinimumNArgs(2),
	Run:   runBackup,
}

func runBackup(cmd *cobra.Command, args []string) {
	source, err := canonicalize(args[0])
	if err != nil {
		fatalUsage("invalid source_dir %q: %v", args[0], err)
	}
	target, err := canonicalize(args[1])
	if err != nil {
		fatalUsage("invalid target_dir %q: %v", args[1], err)
	}

	excludes := make([]string, 0, len(args)-2)
	for _, raw := range args[2:] {
		// Exclude paths relative to the source are resolved against it
		// before canonicalization.
		p := raw
		if !filepath.IsAbs(p) {
			p = filepath.Join(source, p)
		}
		abs, err := canonicalize(p)
		if err != nil {
			fatalUsage("invalid exclude path %q: %v", raw, err)
		}
		excludes = append(excludes, abs)
	}

	var cache *core.HistoryCache
	if c, err := core.OpenHistoryCache(target); err == nil {
		cache = c
		defer cache.Close()
	} else {
		log.Printf("history cache unavailable, continuing without it: %v", err)
	}

	result := core.Run(core.Options{
		SourcePath: source,
		TargetPath: target,
		Excludes:   excludes,
		Cache:      cache,
	})

	os.Exit(reportResult(result))
}

var historyCommand = &cobra.Command{
	Use:   "history <target_dir>",
	Short: "List every backup recorded in target_dir's index",
	Args:  cobra.ExactArgs(1),
	Run:   runHistory,
}

func runHistory(cmd *cobra.Command, args []string) {
	target, err := canonicalize(args[0])
	if err != nil {
		fatalUsage("invalid target_dir %q: %v", args[0], err)
	}

	layout := core.NewLayout(target)
	idx, err := core.ReadIndex(layout.IndexPath())
	if err != nil {
		log.Printf("runtime error: %v", err)
		os.Exit(exitRuntimeError)
	}

	for _, entry := range idx.Entries {
		completion, err := core.ReadCompletionInfo(layout.CompletionInfoPath(entry.BackupName))
		switch {
		case err == nil:
			fmt.Printf("%s\tsource=%s\tstatus=complete\tpaths_skipped=%v\tmanifest_complete=%v\n",
				entry.BackupName, entry.SourcePath, completion.PathsSkipped, completion.ManifestComplete)
		default:
			fmt.Printf("%s\tsource=%s\tstatus=incomplete-or-unreadable\n", entry.BackupName, entry.SourcePath)
		}
	}
}

var (
	scheduleCronExpr string
	scheduleExcludes []string
	watchDebounceMs  int
	watchExcludes    []string
)

var scheduleCommand = &cobra.Command{
	Use:   "schedule <source_dir> <target_dir>",
	Short: "Repeatedly back up source_dir into target_dir on a cron schedule",
	Args:  cobra.ExactArgs(2),
	Run:   runSchedule,
}

var watchCommand = &cobra.Command{
	Use:   "watch <source_dir> <target_dir>",
	Short: "Back up source_dir into target_dir whenever it changes",
	Args:  cobra.ExactArgs(2),
	Run:   runWatch,
}

func runSchedule(cmd *cobra.Command, args []string) {
	if scheduleCronExpr == "" {
		fatalUsage("--cron is required")
	}
	task := buildTask(args[0], args[1], scheduleExcludes, core.TaskTypeSchedule)
	task.Config.CronExpr = scheduleCronExpr
	runScheduler(task)
}

func runWatch(cmd *cobra.Command, args []string) {
	task := buildTask(args[0], args[1], watchExcludes, core.TaskTypeWatch)
	task.Config.WatchDebounceMs = watchDebounceMs
	task.Config.WatchPaths = []string{task.Config.SourcePath}
	runScheduler(task)
}

func buildTask(rawSource, rawTarget string, rawExcludes []string, taskType core.TaskType) core.BackupTask {
	source, err := canonicalize(rawSource)
	if err != nil {
		fatalUsage("invalid source_dir %q: %v", rawSource, err)
	}
	target, err := canonicalize(rawTarget)
	if err != nil {
		fatalUsage("invalid target_dir %q: %v", rawTarget, err)
	}

	excludes := make([]string, 0, len(rawExcludes))
	for _, raw := range rawExcludes {
		p := raw
		if !filepath.IsAbs(p) {
			p = filepath.Join(source, p)
		}
		abs, err := canonicalize(p)
		if err != nil {
			fatalUsage("invalid exclude path %q: %v", raw, err)
		}
		excludes = append(excludes, abs)
	}

	return core.BackupTask{
		ID:      target,
		Name:    fmt.Sprintf("%s -> %s", source, target),
		Type:    taskType,
		Enabled: true,
		Config: core.TaskConfig{
			SourcePath: source,
			TargetPath: target,
			Excludes:   excludes,
		},
	}
}

func runScheduler(task core.BackupTask) {
	sched := core.NewScheduler(func(ctx context.Context, t core.BackupTask) *core.Result {
		var cache *core.HistoryCache
		if c, err := core.OpenHistoryCache(t.Config.TargetPath); err == nil {
			cache = c
			defer cache.Close()
		}
		result := core.Run(core.Options{
			SourcePath: t.Config.SourcePath,
			TargetPath: t.Config.TargetPath,
			Excludes:   t.Config.Excludes,
			Cache:      cache,
		})
		reportResult(result)
		return result
	})

	if err := sched.Upsert(task); err != nil {
		log.Printf("runtime error: %v", err)
		os.Exit(exitRuntimeError)
	}
	sched.Start()
	defer sched.Stop()

	log.Printf("%s running for %s; press Ctrl+C to stop", task.Type, task.Name)
	select {}
}

func init() {
	scheduleCommand.Flags().StringVar(&scheduleCronExpr, "cron", "", "cron expression (e.g. \"@every 1h\")")
	scheduleCommand.Flags().StringArrayVar(&scheduleExcludes, "exclude", nil, "path to exclude, repeatable")

	watchCommand.Flags().IntVar(&watchDebounceMs, "debounce-ms", 500, "milliseconds to wait after the last filesystem event before backing up")
	watchCommand.Flags().StringArrayVar(&watchExcludes, "exclude", nil, "path to exclude, repeatable")

	rootCommand.AddCommand(backupCommand, historyCommand, scheduleCommand, watchCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(exitInvalidArgs)
	}
}
