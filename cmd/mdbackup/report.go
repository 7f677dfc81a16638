package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mdbackup/internal/model"
	"mdbackup/internal/verify"
)

func newStatusCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the project's pipeline state and counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			ps := p.Settings

			color.New(color.FgCyan, color.Bold).Printf("Project: %s\n", ps.ProjectName)
			fmt.Printf("  State:       %s\n", ps.CurrentState)
			fmt.Printf("  Hash:        %s", ps.HashLevel)
			if ps.HashLevel == model.HashSizeAndName {
				color.New(color.FgYellow).Print("  (preview mode, not authoritative)")
			}
			fmt.Println()
			fmt.Printf("  Profile:     %s\n", ps.CPUProfile)
			fmt.Printf("  Destination: %s\n", ps.TargetPath)
			if ps.LastError != "" {
				color.New(color.FgRed).Printf("  Last error:  %s\n", ps.LastError)
			}

			count, bytes, err := p.Ctx.Files.Totals()
			if err != nil {
				return err
			}
			fmt.Printf("  Candidates:  %d files, %s\n", count, humanize.Bytes(uint64(bytes)))

			for _, st := range []model.FileStatus{model.StatusHashPending, model.StatusHashed, model.StatusError} {
				n, err := p.Ctx.Files.CountByStatus(st)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Printf("    %-11s %d\n", st+":", n)
				}
			}

			distinct, err := p.Ctx.Hashes.CountDistinct()
			if err != nil {
				return err
			}
			if distinct > 0 {
				fmt.Printf("  Unique contents: %d\n", distinct)
			}

			for _, st := range []model.CopyJobStatus{model.JobPending, model.JobInProgress, model.JobCopied, model.JobVerified, model.JobSkipped, model.JobError} {
				n, err := p.Ctx.CopyJobs.CountByStatus(st)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Printf("  Copy jobs %-11s %d\n", string(st)+":", n)
				}
			}
			return nil
		},
	}
}

func newTreeCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the proposed destination folder tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			return printFolderTree(p, nil, "")
		},
	}
}

func printFolderTree(p *project, parentID *int64, indent string) error {
	children, err := p.Ctx.Folders.ListChildren(parentID)
	if err != nil {
		return err
	}
	if parentID == nil && len(children) == 0 {
		color.New(color.FgYellow).Println("No plan yet. Run 'mdbackup plan' first.")
		return nil
	}
	for _, fn := range children {
		name := fn.DisplayName
		if fn.UserEditedName != "" {
			name = fn.UserEditedName
		}
		line := color.New(color.FgWhite, color.Bold)
		if !fn.CopyEnabled {
			line = color.New(color.FgRed)
			name += " (excluded)"
		}
		line.Printf("%s%s", indent, name)
		fmt.Printf("  %d unique, %d duplicates skipped, %s\n",
			fn.UniqueCount, fn.DuplicateCount, humanize.Bytes(uint64(fn.TotalSizeBytes)))
		if fn.WhyExplanation != "" {
			color.New(color.FgHiBlack).Printf("%s  %s\n", indent, fn.WhyExplanation)
		}
		if err := printFolderTree(p, &fn.ID, indent+"  "); err != nil {
			return err
		}
	}
	return nil
}

func newFailedCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List copy jobs that ended in an error",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()

			jobs, err := p.Ctx.CopyJobs.ListByStatus(model.JobError)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				color.New(color.FgGreen).Println("No failed copy jobs.")
				return nil
			}
			for _, j := range jobs {
				color.New(color.FgRed).Printf("  #%d  %s\n", j.ID, j.DestinationFullPath)
				fmt.Printf("      attempts: %d  error: %s\n", j.AttemptCount, j.LastError)
			}
			return nil
		},
	}
}

func printCopySummary(p *project) {
	copied, _ := p.Ctx.CopyJobs.CountByStatus(model.JobCopied)
	verified, _ := p.Ctx.CopyJobs.CountByStatus(model.JobVerified)
	skipped, _ := p.Ctx.CopyJobs.CountByStatus(model.JobSkipped)
	failed, _ := p.Ctx.CopyJobs.CountByStatus(model.JobError)

	fmt.Println()
	color.New(color.FgGreen, color.Bold).Println("Copy complete")
	color.New(color.FgGreen).Printf("  Copied:   %d\n", copied+verified)
	if verified > 0 {
		color.New(color.FgBlue).Printf("  Verified: %d\n", verified)
	}
	if skipped > 0 {
		color.New(color.FgYellow).Printf("  Skipped:  %d\n", skipped)
	}
	if failed > 0 {
		color.New(color.FgRed).Printf("  Failed:   %d  (details: 'mdbackup failed')\n", failed)
	}
}

func printVerifySummary(records []verify.Record) {
	counts := make(map[verify.Outcome]int)
	for _, r := range records {
		counts[r.Outcome]++
	}

	fmt.Println()
	color.New(color.FgCyan, color.Bold).Printf("Verification: %d pairs checked\n", len(records))
	if counts[verify.OutcomeMatched] > 0 {
		color.New(color.FgGreen).Printf("  Matched:        %d\n", counts[verify.OutcomeMatched])
	}
	for _, r := range records {
		switch r.Outcome {
		case verify.OutcomeMatched:
		default:
			c := color.New(color.FgRed)
			if r.Outcome == verify.OutcomeSourceMissing {
				c = color.New(color.FgYellow)
			}
			c.Printf("  %s: %s", r.Outcome, r.DestinationPath)
			if r.WasRenamed {
				fmt.Print("  (renamed at copy time)")
			}
			fmt.Println()
			if r.Detail != "" {
				color.New(color.FgHiBlack).Printf("    %s\n", r.Detail)
			}
		}
	}
}
