// core/orchestrator.go
package core

import (
	"errors"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Status is the four-way classification of one completed run.
type Status int

const (
	// StatusSuccess: no paths skipped, the manifest is complete,
	// completion info was written, and the index append succeeded.
	StatusSuccess Status = iota
	// StatusWarning: the run produced usable output but something
	// degraded along the way (a skipped path, an incomplete manifest,
	// or a failed completion-info/index write).
	StatusWarning
	// StatusRuntimeError: the run aborted before any files were copied.
	StatusRuntimeError
	// StatusInvariantViolation: the run hit a programmer-error condition
	// (ErrInvariantViolation) rather than an ordinary environmental
	// failure. Reported separately from StatusRuntimeError so callers can
	// distinguish "the filesystem misbehaved" from "our own bookkeeping
	// is broken".
	StatusInvariantViolation
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusInvariantViolation:
		return "invariant-violation"
	default:
		return "runtime-error"
	}
}

// Options configures one orchestrated run. SourcePath, TargetPath, and
// every entry in Excludes must already be canonical absolute paths —
// canonicalization is the caller's responsibility, not the core's.
type Options struct {
	SourcePath string
	TargetPath string
	Excludes   []string
	// Cache, if non-nil, memoizes parsed history across runs against
	// the same target (core/historycache.go). Optional.
	Cache *HistoryCache
}

// Result is everything the CLI (or a scheduler) needs to report one
// run's outcome.
type Result struct {
	Status           Status
	BackupName       string
	PathsSkipped     bool
	ManifestComplete bool
	Warnings         *multierror.Error
	// Err is set only when Status is StatusRuntimeError or
	// StatusInvariantViolation, carrying the cause of the abort.
	Err error
}

// Run drives one incremental backup end to end: load history, build
// the sum, create the backup directory, open the manifest writer, write
// start info, traverse, write completion info, append the index. A
// RuntimeError is reported through Result.Status/Err, never through
// Run's own error return — callers map Result.Status to an exit code
// rather than branching on a Go error.
func Run(opts Options) *Result {
	layout := NewLayout(opts.TargetPath)

	idx, err := ReadIndex(layout.IndexPath())
	if err != nil {
		return runtimeError(err)
	}

	history := LoadHistory(layout, idx, opts.SourcePath, opts.Cache)
	sum := BuildSum(history)

	gen := NewNameGenerator()
	name, err := layout.CreateBackupDir(gen)
	if err != nil {
		return runtimeError(err)
	}
	log.Printf("starting backup %s of %s into %s", name, opts.SourcePath, opts.TargetPath)

	writer, err := NewManifestWriter(layout.ManifestPath(name))
	if err != nil {
		return runtimeError(err)
	}
	defer writer.Close()

	startTime := time.Now().UTC()
	if err := WriteStartInfo(layout.StartInfoPath(name), StartInfo{
		SourcePath: opts.SourcePath,
		StartTime:  startTime,
	}); err != nil {
		return runtimeError(err)
	}

	travResult, err := Traverse(TraverseOptions{
		SourceRoot: opts.SourcePath,
		DataDir:    layout.DataDir(name),
		Excludes:   opts.Excludes,
		Sum:        sum,
		Writer:     writer,
	})
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			return invariantViolation(err)
		}
		return runtimeError(err)
	}

	result := &Result{
		BackupName:       name,
		PathsSkipped:     travResult.PathsSkipped,
		ManifestComplete: travResult.ManifestComplete,
		Warnings:         travResult.Warnings,
	}

	metadataFailed := false

	completionErr := WriteCompletionInfo(layout.CompletionInfoPath(name), CompletionInfo{
		EndTime:          time.Now().UTC(),
		PathsSkipped:     result.PathsSkipped,
		ManifestComplete: result.ManifestComplete,
	})
	if completionErr != nil {
		log.Printf("warning: failed to write completion info for %s: %v", name, completionErr)
		result.Warnings = multierror.Append(result.Warnings, completionErr)
		metadataFailed = true
	}

	indexErr := AppendIndexEntry(layout.IndexPath(), IndexEntry{
		BackupName: name,
		SourcePath: opts.SourcePath,
	})
	if indexErr != nil {
		log.Printf("warning: failed to append index entry for %s: %v", name, indexErr)
		result.Warnings = multierror.Append(result.Warnings, indexErr)
		metadataFailed = true
	}

	if result.PathsSkipped || !result.ManifestComplete || metadataFailed {
		result.Status = StatusWarning
	} else {
		result.Status = StatusSuccess
	}

	log.Printf("backup %s finished: %s", name, result.Status)
	return result
}

func runtimeError(err error) *Result {
	log.Printf("runtime error: %v", err)
	return &Result{Status: StatusRuntimeError, Err: err}
}

func invariantViolation(err error) *Result {
	log.Printf("invariant violation: %v", err)
	return &Result{Status: StatusInvariantViolation, Err: err}
}
