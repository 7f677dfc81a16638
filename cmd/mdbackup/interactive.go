package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/sqweek/dialog"

	"mdbackup/internal/model"
	"mdbackup/internal/store"
)

func printBanner() {
	banner := `
	███╗   ███╗██████╗ ██████╗  █████╗  ██████╗██╗  ██╗██╗   ██╗██████╗
	████╗ ████║██╔══██╗██╔══██╗██╔══██╗██╔════╝██║ ██╔╝██║   ██║██╔══██╗
	██╔████╔██║██║  ██║██████╔╝███████║██║     █████╔╝ ██║   ██║██████╔╝
	██║╚██╔╝██║██║  ██║██╔══██╗██╔══██║██║     ██╔═██╗ ██║   ██║██╔═══╝
	██║ ╚═╝ ██║██████╔╝██████╔╝██║  ██║╚██████╗██║  ██╗╚██████╔╝██║
	╚═╝     ╚═╝╚═════╝ ╚═════╝ ╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝ ╚═════╝ ╚═╝
`
	color.New(color.FgCyan, color.Bold).Println(banner)
}

// isGUIAvailable checks whether a display server is reachable before the
// native folder picker is attempted.
func isGUIAvailable() bool {
	defer func() { recover() }()
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// guiDirectoryPicker opens the native directory dialog. Errors fall back
// to text prompts; they are never fatal.
func guiDirectoryPicker(title string) (string, error) {
	defer func() { recover() }()
	directory, err := dialog.Directory().Title(title).Browse()
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(directory); err != nil || !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", directory)
	}
	return directory, nil
}

func promptDirectory(label string, useGUI bool) (string, error) {
	if useGUI && isGUIAvailable() {
		if dir, err := guiDirectoryPicker(label); err == nil && dir != "" {
			return dir, nil
		}
		color.New(color.FgYellow).Println("   GUI picker unavailable, using a text prompt instead...")
	}
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			info, err := os.Stat(input)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("not a valid directory")
			}
			return nil
		},
	}
	dir, err := prompt.Run()
	if err == promptui.ErrInterrupt {
		color.New(color.FgRed, color.Bold).Println("\nInterrupted during prompt. Exiting cleanly.")
		os.Exit(130)
	}
	return dir, err
}

func promptSelect(label string, items []string) (string, error) {
	sel := promptui.Select{Label: label, Items: items}
	_, choice, err := sel.Run()
	if err == promptui.ErrInterrupt {
		color.New(color.FgRed, color.Bold).Println("\nInterrupted during prompt. Exiting cleanly.")
		os.Exit(130)
	}
	return choice, err
}

// runInteractive is the no-arguments flow: walk the user through opening
// or creating a project, adding a source, picking a destination, and
// running the pipeline end to end.
func runInteractive(ctx context.Context, projectDir string) error {
	printBanner()
	color.New(color.FgCyan, color.Bold).Println("Welcome! This wizard sets up a deduplicating backup.")
	fmt.Println()
	color.New(color.FgWhite).Println("   What happens:")
	color.New(color.FgGreen).Println("   - Your sources are scanned and every file is content-hashed")
	color.New(color.FgBlue).Println("   - Duplicates are detected, exactly one copy of each file survives")
	color.New(color.FgYellow).Println("   - Files land in dated YYYY/YYYY-MM folders at the destination")
	color.New(color.FgMagenta).Println("   - Sources are never modified, and you can stop and resume any time")
	fmt.Println()

	if projectDir == "" {
		prompt := promptui.Prompt{Label: "Project folder (will be created if missing)"}
		dir, err := prompt.Run()
		if err == promptui.ErrInterrupt {
			os.Exit(130)
		}
		if err != nil {
			return err
		}
		projectDir = dir
	}

	dbPath := filepath.Join(projectDir, projectDBName)
	if _, err := os.Stat(dbPath); err != nil {
		if err := interactiveCreate(projectDir); err != nil {
			return err
		}
	} else {
		color.New(color.FgGreen).Printf("Opening existing project at %s\n", projectDir)
	}

	p, err := openProject(projectDir)
	if err != nil {
		return err
	}
	defer p.Close()

	if p.Settings.CurrentState != model.StateIdle && p.Settings.CurrentState != model.StateCompleted {
		choice, err := promptSelect(
			fmt.Sprintf("Project was interrupted (%s). Resume?", p.Settings.CurrentState),
			[]string{"Resume where it left off", "Start over from scan"},
		)
		if err != nil {
			return err
		}
		if choice == "Resume where it left off" {
			resume := newResumeCmd(&projectDir)
			resume.SetContext(ctx)
			return resume.RunE(resume, nil)
		}
		if err := p.Ctx.GoIdle(); err != nil {
			return err
		}
	}

	roots, err := p.Ctx.ScanRoots.List()
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		color.New(color.FgCyan, color.Bold).Println("\nSource selection")
		src, err := promptDirectory("Source directory (where your media currently lives)", true)
		if err != nil {
			return err
		}
		if _, err := p.Ctx.ScanRoots.Add(src, filepath.Base(src), model.VolumeUnknown); err != nil {
			return err
		}
	}

	if p.Settings.TargetPath == "" {
		color.New(color.FgCyan, color.Bold).Println("\nDestination selection")
		dest, err := promptDirectory("Destination directory (where the organized copy goes)", true)
		if err != nil {
			return err
		}
		p.Settings.TargetPath = dest
		if err := p.Ctx.Settings.Update(p.Settings); err != nil {
			return err
		}
	}

	verifyChoice, err := promptSelect("Verify each file after copying (slower, safer)?", []string{"Yes", "No"})
	if err != nil {
		return err
	}

	ready, err := promptSelect("Ready to run the full pipeline?", []string{"Yes, run it", "No, exit"})
	if err != nil {
		return err
	}
	if ready != "Yes, run it" {
		color.New(color.FgYellow).Println("\nNo worries. Your project is saved; run 'mdbackup run' when ready.")
		return nil
	}

	if err := runScanStage(ctx, p); err != nil {
		return err
	}
	if err := runHashStage(ctx, p); err != nil {
		return err
	}
	if err := runPlanStage(p); err != nil {
		return err
	}
	return runCopyStage(ctx, p, verifyChoice == "Yes")
}

func interactiveCreate(projectDir string) error {
	color.New(color.FgCyan, color.Bold).Printf("\nCreating a new project at %s\n", projectDir)

	algoChoice, err := promptSelect("Hash algorithm", []string{
		"SHA256 (recommended)", "SHA1 (faster, weaker)", "SHA3-256 (slower, strongest)", "Size+Name (preview only, no content hash)",
	})
	if err != nil {
		return err
	}
	algo := model.HashSHA256
	switch algoChoice {
	case "SHA1 (faster, weaker)":
		algo = model.HashSHA1
	case "SHA3-256 (slower, strongest)":
		algo = model.HashSHA3_256
	case "Size+Name (preview only, no content hash)":
		algo = model.HashSizeAndName
		color.New(color.FgYellow).Println("   Preview mode never reads file contents; don't trust it for a real backup.")
	}

	profileChoice, err := promptSelect("CPU profile", []string{"Balanced", "Eco", "Fast", "Max"})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("create project folder: %w", err)
	}
	s, err := store.Open(filepath.Join(projectDir, projectDBName))
	if err != nil {
		return err
	}
	defer s.Close()

	settings := store.NewSettingsRepo(s)
	ps, err := settings.Get()
	if err != nil {
		return err
	}
	ps.ProjectName = filepath.Base(projectDir)
	ps.HashLevel = algo
	ps.CPUProfile = model.CPUProfile(profileChoice)
	ps.EnabledCategories = []model.Category{model.CategoryImage, model.CategoryMovie}
	return settings.Update(ps)
}
