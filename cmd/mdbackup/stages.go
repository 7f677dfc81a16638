package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mdbackup/internal/copyexec"
	"mdbackup/internal/diskspace"
	"mdbackup/internal/enumerate"
	"mdbackup/internal/hashstage"
	"mdbackup/internal/model"
	"mdbackup/internal/pipeline"
	"mdbackup/internal/verify"
)

func scanFilter(ps *model.ProjectSettings) enumerate.Filter {
	cats := ps.EnabledCategories
	if len(cats) == 0 {
		cats = []model.Category{model.CategoryImage, model.CategoryMovie}
	}
	return enumerate.Filter{AllowedExtensions: enumerate.DefaultAllowedExtensions(cats)}
}

func runScanStage(ctx context.Context, p *project) error {
	spec := pipeline.ResolveProfile(p.Settings.CPUProfile)
	ctrs := pipeline.NewCounters(0, 0)
	sink := newProgressSink("Scanning", -1)
	disp := pipeline.NewDispatcher(sink, pipeline.StageScan, ctrs, spec.CadenceHz, p.Ctx.Gate)

	err := p.Ctx.RunScan(ctx, scanFilter(p.Settings), ctrs)
	disp.Stop()
	sink.Finish()
	if err != nil {
		return err
	}

	count, bytes, err := p.Ctx.Files.Totals()
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("Scan complete: %d candidate files, %s\n", count, humanize.Bytes(uint64(bytes)))
	return nil
}

func runHashStage(ctx context.Context, p *project) error {
	spec := pipeline.ResolveProfile(p.Settings.CPUProfile)
	count, bytes, err := p.Ctx.Files.PendingHashTotals()
	if err != nil {
		return err
	}
	ctrs := pipeline.NewCounters(count, bytes)
	sink := newProgressSink("Hashing", bytes)
	disp := pipeline.NewDispatcher(sink, pipeline.StageHash, ctrs, spec.CadenceHz, p.Ctx.Gate)

	cfg := hashstage.Config{
		Algorithm:       p.Settings.HashLevel,
		Workers:         spec.HashWorkers,
		MovieChunkBytes: int64(p.Settings.MovieHashChunkSizeMB) * 1024 * 1024,
	}
	err = p.Ctx.RunHash(ctx, cfg, ctrs)
	disp.Stop()
	sink.Finish()
	if err != nil {
		return err
	}

	distinct, err := p.Ctx.Hashes.CountDistinct()
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("Hashing complete: %d files hashed, %d distinct contents\n", count, distinct)
	return nil
}

func runPlanStage(p *project) error {
	if err := p.Ctx.RunPlan(newWhyEnricher(p)); err != nil {
		return err
	}
	unique, err := p.Ctx.Hashes.CountDistinct()
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("Plan ready: %d unique files assigned to dated folders\n", unique)
	color.New(color.FgWhite).Println("Review it with 'mdbackup tree', then run 'mdbackup copy'.")
	return nil
}

func runCopyStage(ctx context.Context, p *project, verifyAfterCopy bool) error {
	if p.Settings.TargetPath == "" {
		return fmt.Errorf("no destination set: re-run create with --target, or the wizard")
	}

	jobs, totalBytes, err := p.Ctx.MaterializePlan(p.Settings.TargetPath)
	if err != nil {
		return err
	}
	if jobs == 0 {
		color.New(color.FgYellow).Println("Nothing to copy: the plan has no enabled unique files.")
		return p.Ctx.GoIdle()
	}
	if err := diskspace.CheckSufficient(p.Settings.TargetPath, totalBytes); err != nil {
		return err
	}

	spec := pipeline.ResolveProfile(p.Settings.CPUProfile)
	ctrs := pipeline.NewCounters(int64(jobs), totalBytes)
	sink := newProgressSink("Copying", totalBytes)
	disp := pipeline.NewDispatcher(sink, pipeline.StageCopy, ctrs, spec.CadenceHz, p.Ctx.Gate)

	cfg := copyexec.Config{
		Algorithm:       p.Settings.HashLevel,
		Workers:         spec.CopyWorkers,
		VerifyAfterCopy: verifyAfterCopy,
	}
	err = p.Ctx.RunCopy(ctx, cfg, ctrs)
	disp.Stop()
	sink.Finish()
	if err != nil {
		if errors.Is(err, model.ErrCancelled) {
			// Requeue what the cancel left claimed so resume starts clean.
			if _, rerr := p.Ctx.CopyJobs.ResetInProgressToPending(); rerr != nil {
				return rerr
			}
		}
		return err
	}

	printCopySummary(p)
	return nil
}

func runVerifyStage(ctx context.Context, p *project) error {
	spec := pipeline.ResolveProfile(p.Settings.CPUProfile)
	records, err := p.Ctx.RunVerify(ctx, verify.Config{
		Algorithm: p.Settings.HashLevel,
		Workers:   spec.HashWorkers,
	})
	if err != nil {
		return err
	}
	printVerifySummary(records)
	return nil
}

func newScanCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Walk the enabled scan roots and record candidate files",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			return runScanStage(cmd.Context(), p)
		},
	}
}

func newHashCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Content-hash every candidate file in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			return runHashStage(cmd.Context(), p)
		},
	}
}

func newPlanCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Group duplicates and propose the destination folder tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			return runPlanStage(p)
		},
	}
}

func newCopyCmd(projectDir *string) *cobra.Command {
	var verifyFlag bool
	var verifySet bool
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy one instance of each unique file to the destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			verifySet = cmd.Flags().Changed("verify")
			v := p.Settings.VerifyByDefault
			if verifySet {
				v = verifyFlag
			}
			return runCopyStage(cmd.Context(), p, v)
		},
	}
	cmd.Flags().BoolVar(&verifyFlag, "verify", false, "Re-hash each copy before renaming it into place (overrides the project default)")
	return cmd
}

func newVerifyCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Independently re-hash every copied source/destination pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			return runVerifyStage(cmd.Context(), p)
		},
	}
}

func newRunCmd(projectDir *string) *cobra.Command {
	var verifyAfter bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: scan, hash, plan, copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			return runFullPipeline(cmd.Context(), p, verifyAfter)
		},
	}
	cmd.Flags().BoolVar(&verifyAfter, "verify-pass", false, "Run the independent verification pass after copying")
	return cmd
}

func runFullPipeline(ctx context.Context, p *project, verifyAfter bool) error {
	if err := runScanStage(ctx, p); err != nil {
		return err
	}
	if err := runHashStage(ctx, p); err != nil {
		return err
	}
	if err := runPlanStage(p); err != nil {
		return err
	}
	if err := runCopyStage(ctx, p, p.Settings.VerifyByDefault); err != nil {
		return err
	}
	if verifyAfter {
		return runVerifyStage(ctx, p)
	}
	return nil
}

func newResumeCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Pick the pipeline up from wherever it was interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := cmd.Context()
			switch p.Settings.CurrentState {
			case model.StateScanPaused:
				color.New(color.FgCyan).Println("Resuming from scan...")
				return runFullPipeline(ctx, p, false)
			case model.StateHashPaused:
				color.New(color.FgCyan).Println("Resuming from hashing...")
				if err := runHashStage(ctx, p); err != nil {
					return err
				}
				if err := runPlanStage(p); err != nil {
					return err
				}
				return runCopyStage(ctx, p, p.Settings.VerifyByDefault)
			case model.StatePlanning:
				color.New(color.FgCyan).Println("Resuming from planning...")
				if err := runPlanStage(p); err != nil {
					return err
				}
				return runCopyStage(ctx, p, p.Settings.VerifyByDefault)
			case model.StateReadyToCopy, model.StateCopyPaused:
				color.New(color.FgCyan).Println("Resuming copy...")
				return runCopyStage(ctx, p, p.Settings.VerifyByDefault)
			case model.StateCompleted:
				color.New(color.FgGreen).Println("Pipeline already completed. 'mdbackup run' starts a fresh pass.")
				return nil
			case model.StateFaulted:
				color.New(color.FgRed).Printf("Project is faulted: %s\n", p.Settings.LastError)
				color.New(color.FgWhite).Println("Returning to idle; re-run the failed stage when the cause is fixed.")
				return p.Ctx.GoIdle()
			default:
				color.New(color.FgYellow).Println("Nothing to resume; project is idle. Use 'mdbackup run'.")
				return nil
			}
		},
	}
}
