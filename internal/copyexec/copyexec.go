// Package copyexec materializes a finalized plan onto disk: one worker
// pool draining atomically-claimed copy jobs, each copied via a
// `<final>.<job_id>.tmp` temp file beside its destination, synced, then
// renamed into place. Destinations occupied by different content are
// renamed with a short hash suffix; transient failures retry with capped
// exponential backoff.
package copyexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"mdbackup/internal/hashalgo"
	"mdbackup/internal/model"
	"mdbackup/internal/store"
)

// PauseWaiter is the suspend/resume checkpoint the copy workers block on
// between chunks, satisfied by *pipeline.PauseGate without copyexec
// importing the pipeline package (which depends on copyexec through the
// orchestrator) — a narrow local interface avoids that cycle.
type PauseWaiter interface {
	Wait()
}

// ProgressCounters is the subset of *pipeline.Counters the copy executor
// updates as bytes move and errors occur.
type ProgressCounters interface {
	AddDoneBytes(bytes int64)
	AddError()
}

const copyChunkBytes = 1024 * 1024

const maxAttempts = 3

// feedCapacity bounds the claimed-but-unstarted jobs buffered between the
// feeder and the workers.
const feedCapacity = 100

// Config parameterizes one copy-executor run.
type Config struct {
	Algorithm       model.HashAlgorithm
	Workers         int
	VerifyAfterCopy bool
}

// SourceResolver maps a unique file id to its source file's absolute path
// and expected hash, so the executor can reconstruct what to copy from the
// job's destination-only row.
type SourceResolver func(uniqueFileID int64) (sourcePath string, expectedHashHex string, err error)

// Executor drains copy jobs from the store.
type Executor struct {
	jobs    *store.CopyJobRepo
	unique  *store.UniqueFileRepo
	resolve SourceResolver
	cfg     Config
	gate    PauseWaiter
	ctrs    ProgressCounters
}

func New(jobs *store.CopyJobRepo, unique *store.UniqueFileRepo, resolve SourceResolver, cfg Config, gate PauseWaiter, ctrs ProgressCounters) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Executor{jobs: jobs, unique: unique, resolve: resolve, cfg: cfg, gate: gate, ctrs: ctrs}
}

// Run claims and processes jobs until the Pending queue is empty or ctx is
// cancelled. Each round claims one batch (largest-first within the batch)
// into a bounded channel the workers drain; the round boundary is what
// lets a requeued retry be re-claimed, attempt count bumped, by the next
// round. On cancellation, claimed jobs still in flight or in the channel
// stay InProgress for the orchestrator's ResetInProgressToPending to
// reclaim on resume.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: copy executor", model.ErrCancelled)
		}
		claimed, err := e.jobs.ClaimPendingJobs(feedCapacity)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		feed := make(chan *model.CopyJob, feedCapacity)
		for _, job := range claimed {
			feed <- job
		}
		close(feed)

		var wg sync.WaitGroup
		errCh := make(chan error, e.cfg.Workers)
		for w := 0; w < e.cfg.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.workerLoop(ctx, feed); err != nil {
					errCh <- err
				}
			}()
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
	}
}

func (e *Executor) workerLoop(ctx context.Context, feed <-chan *model.CopyJob) error {
	for job := range feed {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: copy executor", model.ErrCancelled)
		}

		if e.gate != nil {
			e.gate.Wait()
		}

		if err := e.processJob(ctx, job); err != nil {
			if errors.Is(err, model.ErrCancelled) {
				return err
			}
			if e.ctrs != nil {
				e.ctrs.AddError()
			}
		}
	}
	return nil
}

func (e *Executor) processJob(ctx context.Context, job *model.CopyJob) error {
	srcPath, expectedHex, err := e.resolve(job.UniqueFileID)
	if err != nil {
		return e.jobs.CompleteJob(job.ID, model.JobError, err.Error())
	}

	if _, statErr := os.Stat(srcPath); errors.Is(statErr, fs.ErrNotExist) {
		return e.jobs.CompleteJob(job.ID, model.JobSkipped, "source missing")
	}

	// A destination already holding the expected content means a prior run
	// finished this job; complete without rewriting.
	if destinationMatches(e.cfg.Algorithm, job.DestinationFullPath, expectedHex) {
		if err := e.jobs.CompleteJob(job.ID, model.JobCopied, ""); err != nil {
			return err
		}
		return e.unique.MarkCopied(job.UniqueFileID, time.Now().UTC())
	}

	destPath, err := e.resolveConflict(job, expectedHex)
	if err != nil {
		return e.jobs.CompleteJob(job.ID, model.JobError, err.Error())
	}

	if err := e.copyOnce(ctx, job, srcPath, destPath, expectedHex); err != nil {
		if errors.Is(err, model.ErrCancelled) {
			return err
		}
		if errors.Is(err, model.ErrPermissionDenied) || errors.Is(err, model.ErrFileNotFound) {
			return e.jobs.CompleteJob(job.ID, model.JobError, err.Error())
		}
		// Claiming is what increments attempt_count, so the count on the
		// claimed row is the attempt that just failed.
		if job.AttemptCount >= maxAttempts {
			return e.jobs.CompleteJob(job.ID, model.JobError, err.Error())
		}
		backoff := time.Duration(100*(1<<job.AttemptCount)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: copy retry backoff", model.ErrCancelled)
		}
		// Back to Pending; the feeder's next claim retries it.
		return e.jobs.RequeueJob(job.ID, err.Error())
	}
	return nil
}

func (e *Executor) copyOnce(ctx context.Context, job *model.CopyJob, srcPath, destPath, expectedHex string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", model.ErrIO, filepath.Dir(destPath), err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", destPath, job.ID)

	in, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s", model.ErrPermissionDenied, srcPath)
		}
		return fmt.Errorf("%w: open %s: %v", model.ErrIO, srcPath, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", model.ErrIO, srcPath, err)
	}

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create temp %s: %v", model.ErrIO, tmpPath, err)
	}
	cleanTmp := true
	defer func() {
		out.Close()
		if cleanTmp {
			os.Remove(tmpPath)
		}
	}()

	if err := e.chunkedCopy(ctx, in, out); err != nil {
		return err
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", model.ErrIO, tmpPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", model.ErrIO, tmpPath, err)
	}
	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return fmt.Errorf("%w: chtimes %s: %v", model.ErrIO, tmpPath, err)
	}

	status := model.JobCopied
	if e.cfg.VerifyAfterCopy {
		digest, _, err := hashalgo.HashFile(e.cfg.Algorithm, tmpPath)
		if err != nil {
			return fmt.Errorf("%w: verify-after-copy %s: %v", model.ErrIO, tmpPath, err)
		}
		if digest.Hex != expectedHex {
			return fmt.Errorf("%w: %s expected %s got %s", model.ErrVerificationMismatch, tmpPath, expectedHex, digest.Hex)
		}
		status = model.JobVerified
	}

	if _, err := os.Stat(destPath); err == nil {
		existingDigest, _, err := hashalgo.HashFile(e.cfg.Algorithm, destPath)
		if err == nil && existingDigest.Hex == expectedHex {
			os.Remove(destPath)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: rename %s to %s: %v", model.ErrIO, tmpPath, destPath, err)
	}
	cleanTmp = false

	job.DestinationFullPath = destPath
	if err := e.jobs.CompleteJob(job.ID, status, ""); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := e.unique.MarkCopied(job.UniqueFileID, now); err != nil {
		return err
	}
	if status == model.JobVerified {
		if err := e.unique.MarkVerified(job.UniqueFileID, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) chunkedCopy(ctx context.Context, in io.Reader, out io.Writer) error {
	buf := make([]byte, copyChunkBytes)
	for {
		if e.gate != nil {
			e.gate.Wait()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: copy chunk", model.ErrCancelled)
		default:
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("%w: write chunk: %v", model.ErrIO, writeErr)
			}
			if e.ctrs != nil {
				e.ctrs.AddDoneBytes(int64(n))
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: read chunk: %v", model.ErrIO, readErr)
		}
	}
}

// destinationMatches reports whether path exists and hashes to expectedHex.
func destinationMatches(algo model.HashAlgorithm, path, expectedHex string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	digest, _, err := hashalgo.HashFile(algo, path)
	return err == nil && digest.Hex == expectedHex
}

// tempFileRacing reports whether another worker's `<final>.<id>.tmp` sits
// beside the planned destination, meaning a different job is mid-write on
// the same final name.
func tempFileRacing(plannedPath string, ownJobID int64) bool {
	matches, err := filepath.Glob(plannedPath + ".*.tmp")
	if err != nil {
		return false
	}
	own := fmt.Sprintf("%s.%d.tmp", plannedPath, ownJobID)
	for _, m := range matches {
		if m != own {
			return true
		}
	}
	return false
}

// resolveConflict implements the conflict-resolution rule: if the
// destination path is already occupied by different content, or another
// worker's temp file is racing for the same final name, the destination
// becomes `<stem>_<first-8-hex>.<ext>`; a further collision on that
// shortened name appends an incrementing counter.
func (e *Executor) resolveConflict(job *model.CopyJob, expectedHex string) (string, error) {
	plannedPath := job.DestinationFullPath
	var conflict bool
	if _, statErr := os.Stat(plannedPath); statErr == nil {
		// Occupied. Same content is not a conflict: the retry path in
		// copyOnce replaces it atomically under the planned name.
		conflict = !destinationMatches(e.cfg.Algorithm, plannedPath, expectedHex)
	} else {
		conflict = tempFileRacing(plannedPath, job.ID)
	}
	if !conflict {
		return plannedPath, nil
	}

	ext := filepath.Ext(plannedPath)
	stem := strings.TrimSuffix(plannedPath, ext)
	shortHex := expectedHex
	if len(shortHex) > 8 {
		shortHex = shortHex[:8]
	}
	candidate := fmt.Sprintf("%s_%s%s", stem, shortHex, ext)

	for counter := 0; ; counter++ {
		path := candidate
		if counter > 0 {
			path = fmt.Sprintf("%s_%s_%d%s", stem, shortHex, counter, ext)
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if counter > 1000 {
			return "", fmt.Errorf("%w: could not resolve conflict for %s", model.ErrIO, plannedPath)
		}
	}
}

// IsRenamedConflictPath reports whether path matches the
// `<stem>_<8-hex>.<ext>` conflict-resolution pattern, so the verify stage
// can annotate a mismatch as "was renamed" instead of treating it as
// corruption.
func IsRenamedConflictPath(path string) bool {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return false
	}
	suffix := stem[idx+1:]
	if len(suffix) != 8 {
		return false
	}
	if _, err := strconv.ParseUint(suffix, 16, 64); err != nil {
		return false
	}
	return true
}
