// Package pipeline hosts the orchestrator that drives a project through
// its state machine, plus the pause/sleep-inhibit/progress primitives
// every stage shares. The current state is persisted straight into
// ProjectSettings.CurrentState — the store already durably persists
// everything else, and a second durability mechanism would undercut the
// single-writer discipline internal/store enforces.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mdbackup/internal/applog"
	"mdbackup/internal/copyexec"
	"mdbackup/internal/enumerate"
	"mdbackup/internal/hashstage"
	"mdbackup/internal/model"
	"mdbackup/internal/plan"
	"mdbackup/internal/store"
	"mdbackup/internal/verify"
)

func modifiedUtcFromCandidate(cand enumerate.Candidate) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.999999999Z07:00", cand.ModifiedUtc)
}

// allowedTransitions is the pipeline's state machine table. A transition
// not present here is rejected with no state change.
var allowedTransitions = map[model.PipelineState]map[model.PipelineState]bool{
	model.StateIdle: {
		model.StateScanning: true,
		// "Idle -> {Hashing, Planning, ReadyToCopy, Copying} (for resume)"
		model.StateHashing:     true,
		model.StatePlanning:    true,
		model.StateReadyToCopy: true,
		model.StateCopying:     true,
	},
	model.StateScanning: {
		model.StateScanPaused: true,
		model.StateHashing:    true,
		model.StateIdle:       true,
		model.StateFaulted:    true,
	},
	model.StateScanPaused: {
		model.StateScanning: true,
		model.StateIdle:     true,
	},
	model.StateHashing: {
		model.StateHashPaused: true,
		model.StatePlanning:   true,
		model.StateIdle:       true,
		model.StateFaulted:    true,
	},
	model.StateHashPaused: {
		model.StateHashing: true,
		model.StateIdle:    true,
	},
	model.StatePlanning: {
		model.StateReadyToCopy: true,
		model.StateIdle:        true,
	},
	model.StateReadyToCopy: {
		model.StateCopying:  true,
		model.StatePlanning: true,
		model.StateIdle:     true,
	},
	model.StateCopying: {
		model.StateCopyPaused: true,
		model.StateCompleted:  true,
		model.StateIdle:       true,
		model.StateFaulted:    true,
	},
	model.StateCopyPaused: {
		model.StateCopying: true,
		model.StateIdle:    true,
	},
	model.StateCompleted: {
		model.StateIdle: true,
	},
	model.StateFaulted: {
		model.StateIdle: true,
	},
}

// ErrInvalidTransition means the requested state change is not present in
// the transition table.
var ErrInvalidTransition = fmt.Errorf("pipeline: invalid state transition")

// Context is the project-scoped collaborator threaded by reference through
// every command, constructed once at project open and torn down at
// project close.
type Context struct {
	Store       *store.Store
	Settings    *store.SettingsRepo
	ScanRoots   *store.ScanRootRepo
	Files       *store.FileInstanceRepo
	Hashes      *store.HashRepo
	UniqueFiles *store.UniqueFileRepo
	Folders     *store.FolderNodeRepo
	CopyJobs    *store.CopyJobRepo

	Gate  *PauseGate
	Sleep *SleepLeaseManager

	// Log is the project's two-sink logger. NewContext defaults it to a
	// no-op; the CLI swaps in the real one once the project directory is
	// known.
	Log *applog.Logger

	// RunID correlates every log line and progress event emitted during one
	// process lifetime, independent of the project's own durable state.
	RunID uuid.UUID
}

// NewContext wires every repository against one open store and an optional
// sleep inhibitor (nil defaults to NoopInhibitor).
func NewContext(s *store.Store, inhibitor SleepInhibitor) *Context {
	return &Context{
		Store:       s,
		Settings:    store.NewSettingsRepo(s),
		ScanRoots:   store.NewScanRootRepo(s),
		Files:       store.NewFileInstanceRepo(s),
		Hashes:      store.NewHashRepo(s),
		UniqueFiles: store.NewUniqueFileRepo(s),
		Folders:     store.NewFolderNodeRepo(s),
		CopyJobs:    store.NewCopyJobRepo(s),
		Gate:        NewPauseGate(),
		Sleep:       NewSleepLeaseManager(inhibitor),
		Log:         applog.NewNop(),
		RunID:       uuid.New(),
	}
}

// Close releases the underlying store handles.
func (c *Context) Close() error {
	return c.Store.Close()
}

// transition validates and persists a state change, rejecting anything
// not named in the transition table.
func (c *Context) transition(to model.PipelineState) error {
	ps, err := c.Settings.Get()
	if err != nil {
		return err
	}
	if ps.CurrentState == to {
		return nil
	}
	if !allowedTransitions[ps.CurrentState][to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ps.CurrentState, to)
	}
	return c.Settings.SetState(to)
}

// fault records a stage failure and moves the project to Faulted,
// returning the original error for the caller to propagate.
func (c *Context) fault(err error) error {
	c.Log.Error("stage faulted", applog.String("run_id", c.RunID.String()), applog.Error(err))
	_ = c.Settings.SetLastError(err.Error())
	// Planning and ReadyToCopy have no Faulted edge in the transition
	// table; there the error is recorded and the state left for GoIdle.
	_ = c.transition(model.StateFaulted)
	return err
}

// Recover reconciles CurrentState with on-disk reality at process start.
// A crash mid-stage leaves the state machine in an "-ing" state with no
// process left to drive it; Recover folds that back to the matching paused
// state so an explicit Resume call picks the work back up cleanly. Copy
// jobs left InProgress by a crash are requeued to Pending.
func (c *Context) Recover() error {
	ps, err := c.Settings.Get()
	if err != nil {
		return err
	}
	switch ps.CurrentState {
	case model.StateScanning:
		return c.Settings.SetState(model.StateScanPaused)
	case model.StateHashing:
		return c.Settings.SetState(model.StateHashPaused)
	case model.StateCopying:
		if _, err := c.CopyJobs.ResetInProgressToPending(); err != nil {
			return err
		}
		return c.Settings.SetState(model.StateCopyPaused)
	default:
		return nil
	}
}

// RunScan walks every enabled scan root, batching discovered files into
// the store. Transitions Idle -> Scanning, then Scanning -> Hashing on a
// clean finish or Scanning -> ScanPaused on cancellation.
func (c *Context) RunScan(ctx context.Context, filter enumerate.Filter, ctrs *Counters) error {
	if err := c.transition(model.StateScanning); err != nil {
		return err
	}
	if err := c.Sleep.Acquire("Scan"); err != nil {
		return c.fault(err)
	}
	defer c.Sleep.Release("Scan")

	c.Log.Info("scan started", applog.String("run_id", c.RunID.String()))

	roots, err := c.ScanRoots.List()
	if err != nil {
		return c.fault(err)
	}

	// Rescan policy: a changed topology invalidates the plan wholesale, so
	// unique files and the folder tree go first. Instances are reconciled
	// in place — a file whose (path, size, modified) tuple is unchanged
	// keeps its hash reference and is never re-hashed; changed files drop
	// theirs and requeue; files the walk no longer sees are swept away
	// afterwards, and hashes nothing references any more are pruned last.
	if err := c.UniqueFiles.DeleteAll(); err != nil {
		return c.fault(err)
	}
	if err := c.Folders.DeleteAll(); err != nil {
		return c.fault(err)
	}

	inserter := store.NewBatchInserter(c.Store, 0)
	for _, root := range roots {
		if !root.IsEnabled {
			continue
		}
		rootScanStart := time.Now().UTC()

		candidates := make(chan enumerate.Candidate, 50000)
		done := make(chan enumerate.Stats, 1)
		go func(root *model.ScanRoot) {
			defer close(candidates)
			done <- enumerate.Scan(ctx, root.ID, root.Path, filter, c.Gate, candidates)
		}(root)

		for cand := range candidates {
			modified, parseErr := modifiedUtcFromCandidate(cand)
			if parseErr != nil {
				continue
			}

			prior, err := c.Files.FindByIdentity(cand.ScanRootID, cand.RelativePath)
			if err != nil {
				return c.fault(err)
			}
			switch {
			case prior != nil && !hashstage.NeedsRehash(prior, cand.SizeBytes, modified):
				// Unchanged tuple: keep the stored hash, just stamp the
				// row as seen by this pass.
				if err := c.Files.TouchDiscovered(prior.ID, rootScanStart); err != nil {
					return c.fault(err)
				}
			case prior != nil:
				if err := c.Files.MarkRediscovered(prior.ID, cand.SizeBytes, modified, rootScanStart); err != nil {
					return c.fault(err)
				}
			default:
				fi := model.FileInstance{
					ScanRootID:    cand.ScanRootID,
					RelativePath:  cand.RelativePath,
					FileName:      cand.FileName,
					Extension:     cand.Extension,
					SizeBytes:     cand.SizeBytes,
					ModifiedUtc:   modified,
					Status:        model.StatusHashPending,
					Category:      enumerate.CategoryForExtension(cand.Extension),
					DiscoveredUtc: rootScanStart,
				}
				if err := inserter.Add(ctx, fi); err != nil {
					if ctx.Err() != nil {
						_ = c.Settings.SetState(model.StateScanPaused)
						return err
					}
					return c.fault(err)
				}
			}
			if ctrs != nil {
				ctrs.AddDoneFile(cand.SizeBytes)
				ctrs.SetCurrentPath(cand.RelativePath)
			}
		}

		stats := <-done
		if err := inserter.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				_ = c.Settings.SetState(model.StateScanPaused)
				return err
			}
			return c.fault(err)
		}
		// Sweep vanished files only when the walk ran to completion — a
		// cancelled pass must not delete rows it simply never reached.
		if ctx.Err() == nil {
			if swept, err := c.Files.DeleteDiscoveredBefore(root.ID, rootScanStart); err != nil {
				return c.fault(err)
			} else if swept > 0 {
				c.Log.Debug("swept vanished instances",
					applog.Int64("root_id", root.ID), applog.Int64("count", swept))
			}
		}
		if err := c.ScanRoots.UpdateScanStats(root.ID, stats.FilesEmitted, stats.TotalBytes); err != nil {
			return c.fault(err)
		}
		if ctrs != nil {
			for range stats.Errors {
				ctrs.AddError()
			}
		}
	}

	if ctx.Err() != nil {
		_ = c.Settings.SetState(model.StateScanPaused)
		return fmt.Errorf("%w: scan", model.ErrCancelled)
	}

	if pruned, err := c.Hashes.PruneOrphaned(); err != nil {
		return c.fault(err)
	} else if pruned > 0 {
		c.Log.Debug("pruned orphaned hashes", applog.Int64("count", pruned))
	}

	c.Log.Info("scan finished", applog.String("run_id", c.RunID.String()))
	return c.transition(model.StateHashing)
}

// RunHash drains HashPending file instances through the hash stage.
// Transitions Hashing -> Planning on a clean finish, or stays HashPaused
// on cancellation.
func (c *Context) RunHash(ctx context.Context, cfg hashstage.Config, ctrs *Counters) error {
	if err := c.transition(model.StateHashing); err != nil {
		return err
	}
	if err := c.Sleep.Acquire("Hash"); err != nil {
		return c.fault(err)
	}
	defer c.Sleep.Release("Hash")

	resolver := func(scanRootID int64) (string, error) {
		root, err := c.ScanRoots.GetByID(scanRootID)
		if err != nil {
			return "", err
		}
		return root.Path, nil
	}
	c.Log.Info("hash stage started",
		applog.String("run_id", c.RunID.String()),
		applog.String("algorithm", string(cfg.Algorithm)),
		applog.Int("workers", cfg.Workers))

	// A nil *Counters must stay a nil interface, not a typed nil.
	var pc hashstage.ProgressCounters
	if ctrs != nil {
		pc = ctrs
	}
	stage := hashstage.New(c.Files, c.Hashes, cfg, c.Gate, pc, resolver)
	if err := stage.Run(ctx); err != nil {
		if ctx.Err() != nil {
			_ = c.Settings.SetState(model.StateHashPaused)
			return err
		}
		return c.fault(err)
	}
	return c.transition(model.StatePlanning)
}

// RunPlan groups hashed file instances into Unique Files and builds the
// destination folder tree. Transitions Planning -> ReadyToCopy.
func (c *Context) RunPlan(whyEnricher func(*model.FileInstance) string) error {
	if err := c.transition(model.StatePlanning); err != nil {
		return err
	}
	builder := plan.NewBuilder(c.Files, c.Hashes, c.UniqueFiles, c.Folders)
	builder.WhyEnricher = whyEnricher
	if err := builder.Build(); err != nil {
		return c.fault(err)
	}
	return c.transition(model.StateReadyToCopy)
}

// MaterializePlan purges any stale job queue and creates one Pending copy
// job per copy-enabled Unique File whose containing folder chain is also
// enabled, the step between ReadyToCopy and Copying that turns a finalized
// plan into the copy executor's work queue. Returns the job count and the
// total bytes they will move, for progress totals and the free-space
// pre-flight.
func (c *Context) MaterializePlan(targetPath string) (int, int64, error) {
	if err := c.CopyJobs.PurgeAll(); err != nil {
		return 0, 0, err
	}

	uniqueFiles, err := c.UniqueFiles.ListAll()
	if err != nil {
		return 0, 0, err
	}
	chainEnabled := make(map[int64]bool)
	created := 0
	var totalBytes int64
	for _, uf := range uniqueFiles {
		if !uf.CopyEnabled || uf.PlannedFolderNodeID == nil {
			continue
		}
		enabled, err := c.folderChainEnabled(*uf.PlannedFolderNodeID, chainEnabled)
		if err != nil {
			return created, totalBytes, err
		}
		if !enabled {
			continue
		}
		dest, err := c.destinationPath(targetPath, uf)
		if err != nil {
			return created, totalBytes, err
		}
		if _, err := c.CopyJobs.Create(uf.ID, dest); err != nil {
			return created, totalBytes, err
		}
		created++
		if h, err := c.Hashes.GetByID(uf.HashID); err == nil {
			totalBytes += h.SizeBytes
		}
	}
	c.Log.Info("copy jobs materialized",
		applog.Int("jobs", created), applog.Int64("bytes", totalBytes))
	return created, totalBytes, nil
}

// folderChainEnabled reports whether a folder and every ancestor up to its
// root are copy-enabled, memoized across the materialize pass.
func (c *Context) folderChainEnabled(folderID int64, memo map[int64]bool) (bool, error) {
	if enabled, ok := memo[folderID]; ok {
		return enabled, nil
	}
	folder, err := c.Folders.GetByID(folderID)
	if err != nil {
		return false, err
	}
	enabled := folder.CopyEnabled
	if enabled && folder.ParentID != nil {
		enabled, err = c.folderChainEnabled(*folder.ParentID, memo)
		if err != nil {
			return false, err
		}
	}
	memo[folderID] = enabled
	return enabled, nil
}

func (c *Context) destinationPath(targetPath string, uf *model.UniqueFile) (string, error) {
	folder, err := c.Folders.GetByID(*uf.PlannedFolderNodeID)
	if err != nil {
		return "", err
	}
	return filepath.Join(targetPath, filepath.FromSlash(folder.ProposedRelativePath), uf.PlannedFileName), nil
}

// sourceResolver maps a unique file id back to its representative's
// absolute source path and expected hash hex, the lookup both the copy
// executor and the verify pass need to reconstruct job context from a
// destination-only row.
func (c *Context) sourceResolver(uniqueFileID int64) (string, string, error) {
	uf, err := c.UniqueFiles.GetByID(uniqueFileID)
	if err != nil {
		return "", "", err
	}
	rep, err := c.Files.GetByID(uf.RepresentativeFileInstanceID)
	if err != nil {
		return "", "", err
	}
	root, err := c.ScanRoots.GetByID(rep.ScanRootID)
	if err != nil {
		return "", "", err
	}
	hash, err := c.Hashes.GetByID(uf.HashID)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(root.Path, rep.RelativePath), hash.HashHex, nil
}

// RunCopy drains the copy job queue. Transitions Copying -> Completed on
// a clean finish, or stays CopyPaused on cancellation.
func (c *Context) RunCopy(ctx context.Context, cfg copyexec.Config, ctrs *Counters) error {
	if err := c.transition(model.StateCopying); err != nil {
		return err
	}
	if err := c.Sleep.Acquire("Copy"); err != nil {
		return c.fault(err)
	}
	defer c.Sleep.Release("Copy")

	c.Log.Info("copy started",
		applog.String("run_id", c.RunID.String()), applog.Int("workers", cfg.Workers))

	var pc copyexec.ProgressCounters
	if ctrs != nil {
		pc = ctrs
	}
	executor := copyexec.New(c.CopyJobs, c.UniqueFiles, c.sourceResolver, cfg, c.Gate, pc)
	if err := executor.Run(ctx); err != nil {
		if ctx.Err() != nil {
			_ = c.Settings.SetState(model.StateCopyPaused)
			return err
		}
		return c.fault(err)
	}

	if ctx.Err() != nil {
		_ = c.Settings.SetState(model.StateCopyPaused)
		return fmt.Errorf("%w: copy", model.ErrCancelled)
	}
	return c.transition(model.StateCompleted)
}

// RunVerify runs the independent verification pass. It is deliberately
// not wired into the state machine above and may be invoked from any
// state.
func (c *Context) RunVerify(ctx context.Context, cfg verify.Config) ([]verify.Record, error) {
	if err := c.Sleep.Acquire("Verification"); err != nil {
		return nil, err
	}
	defer c.Sleep.Release("Verification")

	resolver := func(job *model.CopyJob) (string, string, error) {
		return c.sourceResolver(job.UniqueFileID)
	}
	v := verify.New(c.CopyJobs, resolver, cfg)
	return v.Run(ctx)
}

// PauseScan/ResumeScan, PauseHash/ResumeHash, and PauseCopy/ResumeCopy
// toggle the shared PauseGate and record the matching state transition; the
// running worker pool is whichever one the caller started, it simply
// blocks at its next suspension point.

func (c *Context) PauseScan() error {
	c.Gate.Pause()
	return c.transition(model.StateScanPaused)
}

func (c *Context) ResumeScan() error {
	if err := c.transition(model.StateScanning); err != nil {
		return err
	}
	c.Gate.Resume()
	return nil
}

func (c *Context) PauseHash() error {
	c.Gate.Pause()
	return c.transition(model.StateHashPaused)
}

func (c *Context) ResumeHash() error {
	if err := c.transition(model.StateHashing); err != nil {
		return err
	}
	c.Gate.Resume()
	return nil
}

func (c *Context) PauseCopy() error {
	c.Gate.Pause()
	return c.transition(model.StateCopyPaused)
}

func (c *Context) ResumeCopy() error {
	if err := c.transition(model.StateCopying); err != nil {
		return err
	}
	c.Gate.Resume()
	return nil
}

// GoIdle is the universal escape hatch named in the transition table: every
// state (including Completed and Faulted) may return to Idle.
func (c *Context) GoIdle() error {
	c.Gate.Resume()
	return c.transition(model.StateIdle)
}
