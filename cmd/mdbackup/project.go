package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mdbackup/internal/applog"
	"mdbackup/internal/model"
	"mdbackup/internal/pipeline"
	"mdbackup/internal/store"
)

const projectDBName = "Project.db"

// project bundles everything a command needs once a project folder is open.
type project struct {
	Dir      string
	Ctx      *pipeline.Context
	Log      *applog.Logger
	Settings *model.ProjectSettings
}

func (p *project) Close() {
	p.Log.Sync()
	p.Ctx.Close()
}

// openProject opens an existing project folder: store, logs, pipeline
// context, and crash recovery. Commands other than create refuse to
// conjure a project out of thin air.
func openProject(projectDir string) (*project, error) {
	if projectDir == "" {
		return nil, fmt.Errorf("no project folder given (use --project)")
	}
	dbPath := filepath.Join(projectDir, projectDBName)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no project at %s (run 'mdbackup create' first): %w", projectDir, err)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	logger, err := applog.Open(projectDir)
	if err != nil {
		s.Close()
		return nil, err
	}

	ctx := pipeline.NewContext(s, nil)
	ctx.Log = logger
	if err := ctx.Recover(); err != nil {
		logger.Sync()
		ctx.Close()
		return nil, err
	}

	ps, err := ctx.Settings.Get()
	if err != nil {
		logger.Sync()
		ctx.Close()
		return nil, err
	}
	return &project{Dir: projectDir, Ctx: ctx, Log: logger, Settings: ps}, nil
}

func newCreateCmd(projectDir *string) *cobra.Command {
	var name, hashLevel, profile, target string
	var verifyByDefault bool
	var movieChunkMB int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new project folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *projectDir == "" {
				return fmt.Errorf("no project folder given (use --project)")
			}
			algo := model.HashAlgorithm(hashLevel)
			switch algo {
			case model.HashSHA1, model.HashSHA256, model.HashSHA3_256, model.HashSizeAndName:
			default:
				return fmt.Errorf("unknown hash algorithm %q (SHA1, SHA256, SHA3-256, SIZE_NAME)", hashLevel)
			}
			cpu := model.CPUProfile(profile)
			switch cpu {
			case model.ProfileEco, model.ProfileBalanced, model.ProfileFast, model.ProfileMax:
			default:
				return fmt.Errorf("unknown CPU profile %q (Eco, Balanced, Fast, Max)", profile)
			}

			if err := os.MkdirAll(*projectDir, 0o755); err != nil {
				return fmt.Errorf("create project folder: %w", err)
			}
			s, err := store.Open(filepath.Join(*projectDir, projectDBName))
			if err != nil {
				return err
			}
			defer s.Close()

			settings := store.NewSettingsRepo(s)
			ps, err := settings.Get()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(*projectDir)
			}
			ps.ProjectName = name
			ps.HashLevel = algo
			ps.CPUProfile = cpu
			ps.TargetPath = target
			ps.VerifyByDefault = verifyByDefault
			ps.MovieHashChunkSizeMB = movieChunkMB
			ps.EnabledCategories = []model.Category{model.CategoryImage, model.CategoryMovie}
			if err := settings.Update(ps); err != nil {
				return err
			}

			color.New(color.FgGreen, color.Bold).Printf("Project %q created at %s\n", name, *projectDir)
			color.New(color.FgWhite).Printf("  Hash: %s   Profile: %s   Verify after copy: %v\n", algo, cpu, verifyByDefault)
			if target == "" {
				color.New(color.FgYellow).Println("  No destination set yet; set one before copying (create --target, or the wizard)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Project name (defaults to the folder name)")
	cmd.Flags().StringVar(&hashLevel, "hash", string(model.HashSHA256), "Hash algorithm: SHA1, SHA256, SHA3-256, SIZE_NAME (preview only)")
	cmd.Flags().StringVar(&profile, "profile", string(model.ProfileBalanced), "CPU profile: Eco, Balanced, Fast, Max")
	cmd.Flags().StringVar(&target, "target", "", "Destination root for copied files")
	cmd.Flags().BoolVar(&verifyByDefault, "verify", false, "Re-hash every copy before renaming it into place")
	cmd.Flags().IntVar(&movieChunkMB, "movie-chunk-mb", 0, "Hybrid partial-hash chunk size for movies, in MB (0 = full hash)")
	return cmd
}

func newRootCmd(projectDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "root",
		Short: "Manage scan roots (source directories)",
	}

	var label, rootType string
	addCmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()

			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			info, err := os.Stat(abs)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("%s is not a readable directory", abs)
			}
			root, err := p.Ctx.ScanRoots.Add(abs, label, model.VolumeType(rootType))
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("Added root #%d: %s\n", root.ID, abs)
			return nil
		},
	}
	addCmd.Flags().StringVar(&label, "label", "", "Display label for this root")
	addCmd.Flags().StringVar(&rootType, "type", string(model.VolumeUnknown), "Volume type: Fixed, Removable, Network, Optical, Unknown")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scan roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()

			roots, err := p.Ctx.ScanRoots.List()
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				color.New(color.FgYellow).Println("No scan roots yet. Add one with 'mdbackup root add <path>'.")
				return nil
			}
			for _, r := range roots {
				state := color.New(color.FgGreen).Sprint("enabled")
				if !r.IsEnabled {
					state = color.New(color.FgRed).Sprint("disabled")
				}
				fmt.Printf("  #%d  %s  [%s, %s]", r.ID, r.Path, r.RootType, state)
				if r.FileCount > 0 {
					fmt.Printf("  %d files, %s", r.FileCount, humanize.Bytes(uint64(r.TotalBytes)))
				}
				fmt.Println()
			}
			return nil
		},
	}

	setEnabled := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: use + " a scan root",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid root id %q", args[0])
				}
				p, err := openProject(*projectDir)
				if err != nil {
					return err
				}
				defer p.Close()
				return p.Ctx.ScanRoots.SetEnabled(id, enabled)
			},
		}
	}

	clearCmd := &cobra.Command{
		Use:   "clear <id>",
		Short: "Forget a root's scanned files so the next scan re-hashes everything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid root id %q", args[0])
			}
			p, err := openProject(*projectDir)
			if err != nil {
				return err
			}
			defer p.Close()
			// The plan references instances about to be deleted; it goes
			// first, then the instances, then any hashes left orphaned.
			if err := p.Ctx.UniqueFiles.DeleteAll(); err != nil {
				return err
			}
			if err := p.Ctx.Folders.DeleteAll(); err != nil {
				return err
			}
			if err := p.Ctx.ScanRoots.ClearRoot(id); err != nil {
				return err
			}
			if _, err := p.Ctx.Hashes.PruneOrphaned(); err != nil {
				return err
			}
			color.New(color.FgYellow).Printf("Root #%d cleared; the next scan starts from scratch.\n", id)
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, setEnabled("enable", true), setEnabled("disable", false), clearCmd)
	return cmd
}
