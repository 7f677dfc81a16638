// mdbackup: media-deduplication backup engine. Scans user-chosen source
// directories, hashes every candidate file, groups duplicates, proposes a
// date-organized destination tree, and copies exactly one instance of each
// unique file — never touching the sources. All pipeline state lives in
// the project's SQLite store so any stage can be interrupted and resumed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	var projectDir string

	rootCmd := &cobra.Command{
		Use:   "mdbackup",
		Short: "Deduplicating media backup with a resumable pipeline",
		Long: `mdbackup is a single-user, local media-deduplication backup engine.

The pipeline runs in stages, each persisted before the next begins:

  scan    walk the enabled source roots and record candidate files
  hash    content-hash every candidate in parallel, deduplicating as it goes
  plan    group duplicates, pick representatives, propose a YYYY/YYYY-MM tree
  copy    materialize the plan: one copy per unique file, atomic per file
  verify  independently re-hash source and destination pairs

Close the terminal at any point; 'mdbackup resume' picks up where the
pipeline stopped. Sources are never modified.`,
		Example: `  # Create a project and add sources
  mdbackup create --project ~/backup-project --target /mnt/backup
  mdbackup root add ~/DCIM --project ~/backup-project

  # Run the full pipeline
  mdbackup run --project ~/backup-project

  # Or stage by stage
  mdbackup scan --project ~/backup-project
  mdbackup hash --project ~/backup-project
  mdbackup plan --project ~/backup-project
  mdbackup tree --project ~/backup-project
  mdbackup copy --project ~/backup-project`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare invocation drops into the interactive wizard.
			return runInteractive(cmd.Context(), projectDir)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Project folder (holds Project.db and Logs/)")

	rootCmd.AddCommand(
		newCreateCmd(&projectDir),
		newRootCmd(&projectDir),
		newScanCmd(&projectDir),
		newHashCmd(&projectDir),
		newPlanCmd(&projectDir),
		newTreeCmd(&projectDir),
		newCopyCmd(&projectDir),
		newVerifyCmd(&projectDir),
		newRunCmd(&projectDir),
		newResumeCmd(&projectDir),
		newStatusCmd(&projectDir),
		newFailedCmd(&projectDir),
	)

	// SIGINT/SIGTERM cancel cooperatively: workers stop at the next chunk
	// boundary, in-progress copy jobs are requeued on the next open.
	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		color.New(color.FgRed, color.Bold).Println("\nInterrupted. Finishing the current chunk and saving state.")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
