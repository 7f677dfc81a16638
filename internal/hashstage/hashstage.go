// Package hashstage drives the worker pool that turns HashPending file
// instances into interned Hash rows: a feeder pages pending instances out
// of the store largest-first, a configurable number of workers stream each
// file through the project's hash algorithm, and identical digests are
// coalesced to a single Hash row via the store's intern map.
package hashstage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mdbackup/internal/hashalgo"
	"mdbackup/internal/model"
	"mdbackup/internal/store"
)

// PauseWaiter is the suspend/resume checkpoint the hash workers block on
// between files, satisfied by *pipeline.PauseGate without hashstage
// importing the pipeline package (which itself depends on hashstage,
// through the orchestrator) — a plain narrow interface instead of the
// concrete type avoids that cycle.
type PauseWaiter interface {
	Wait()
}

// ProgressCounters is the subset of *pipeline.Counters the hash stage
// updates as files complete.
type ProgressCounters interface {
	AddDoneFile(bytes int64)
	AddError()
	SetCurrentPath(path string)
}

// Config parameterizes one hash-stage run.
type Config struct {
	Algorithm       model.HashAlgorithm
	Workers         int
	MovieChunkBytes int64 // 0 disables the hybrid partial-hash path for movies
	FeedBatchSize   int   // how many pending rows to page in at a time; 0 defaults to 500
}

// RootResolver maps a scan root id to its absolute base path, so a
// FileInstance's stored RelativePath can be turned back into an openable
// path on disk.
type RootResolver func(scanRootID int64) (string, error)

// Stage owns the store handles and control primitives the hash workers
// share.
type Stage struct {
	files    *store.FileInstanceRepo
	hashes   *store.HashRepo
	cfg      Config
	gate     PauseWaiter
	ctrs     ProgressCounters
	resolver RootResolver
}

func New(files *store.FileInstanceRepo, hashes *store.HashRepo, cfg Config, gate PauseWaiter, ctrs ProgressCounters, resolver RootResolver) *Stage {
	if cfg.FeedBatchSize <= 0 {
		cfg.FeedBatchSize = 500
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Stage{files: files, hashes: hashes, cfg: cfg, gate: gate, ctrs: ctrs, resolver: resolver}
}

// Result is one worker's outcome for a single file instance.
type Result struct {
	FileInstanceID int64
	HashID         int64
	Err            error
}

// Run feeds every HashPending file instance (largest first, so the slow
// tail parallelizes instead of serializing at the end) through cfg.Workers
// concurrent hashers until the queue drains or ctx is cancelled.
func (s *Stage) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: hash stage", model.ErrCancelled)
		}

		batch, err := s.files.ListPendingHash(s.cfg.FeedBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].SizeBytes > batch[j].SizeBytes })

		jobs := make(chan *model.FileInstance, 1000)
		results := make(chan Result, 1000)

		go func() {
			defer close(jobs)
			for _, fi := range batch {
				select {
				case jobs <- fi:
				case <-ctx.Done():
					return
				}
			}
		}()

		var wg sync.WaitGroup
		wg.Add(s.cfg.Workers)
		for w := 0; w < s.cfg.Workers; w++ {
			go func() {
				defer wg.Done()
				s.worker(ctx, jobs, results)
			}()
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		for r := range results {
			if r.Err != nil && s.ctrs != nil {
				s.ctrs.AddError()
			}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: hash stage", model.ErrCancelled)
		}
	}
}

func (s *Stage) worker(ctx context.Context, jobs <-chan *model.FileInstance, results chan<- Result) {
	for fi := range jobs {
		if s.gate != nil {
			s.gate.Wait()
		}
		if ctx.Err() != nil {
			results <- Result{FileInstanceID: fi.ID, Err: ctx.Err()}
			continue
		}

		hashID, err := s.hashOne(fi)
		if err != nil {
			setErr := s.files.SetHashResult(fi.ID, 0, model.StatusError, err.Error())
			if setErr != nil {
				err = fmt.Errorf("%w (and failed to record error: %v)", err, setErr)
			}
			results <- Result{FileInstanceID: fi.ID, Err: err}
			continue
		}

		if err := s.files.SetHashResult(fi.ID, hashID, model.StatusHashed, ""); err != nil {
			results <- Result{FileInstanceID: fi.ID, Err: err}
			continue
		}
		if s.ctrs != nil {
			s.ctrs.AddDoneFile(fi.SizeBytes)
			s.ctrs.SetCurrentPath(fi.RelativePath)
		}
		results <- Result{FileInstanceID: fi.ID, HashID: hashID}
	}
}

func (s *Stage) hashOne(fi *model.FileInstance) (int64, error) {
	rootPath, err := s.resolver(fi.ScanRootID)
	if err != nil {
		return 0, fmt.Errorf("%w: resolve scan root %d: %v", model.ErrFileNotFound, fi.ScanRootID, err)
	}
	absPath := filepath.Join(rootPath, fi.RelativePath)

	var digest hashalgo.Digest
	var size int64
	var partialInfo string

	isMovie := fi.Category == model.CategoryMovie
	if s.cfg.Algorithm == model.HashSizeAndName {
		digest = hashalgo.SizeAndNameDigest(fi.SizeBytes, fi.FileName)
		size = fi.SizeBytes
	} else if isMovie && s.cfg.MovieChunkBytes > 0 {
		digest, size, err = hashalgo.PartialMovieDigest(s.cfg.Algorithm, absPath, s.cfg.MovieChunkBytes)
		partialInfo = hashalgo.PartialHashInfo(int(s.cfg.MovieChunkBytes / (1024 * 1024)))
	} else {
		digest, size, err = hashalgo.HashFile(s.cfg.Algorithm, absPath)
	}

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", model.ErrFileNotFound, absPath)
		}
		if errors.Is(err, fs.ErrPermission) {
			return 0, fmt.Errorf("%w: %s", model.ErrPermissionDenied, absPath)
		}
		return 0, err
	}

	return s.hashes.GetOrCreate(s.cfg.Algorithm, digest.Bytes, digest.Hex, size, partialInfo)
}

// NeedsRehash applies the cache-semantics contract: a file instance whose
// (path, size, modified) tuple matches its previously stored record can
// keep its existing hash reference rather than being re-hashed. prior may
// be nil (never seen before).
func NeedsRehash(prior *model.FileInstance, sizeBytes int64, modifiedUtc time.Time) bool {
	if prior == nil || prior.HashID == nil {
		return true
	}
	if prior.SizeBytes != sizeBytes {
		return true
	}
	return !prior.ModifiedUtc.Equal(modifiedUtc)
}
