package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamim/examforge/internal/checkpoint"
	"github.com/lamim/examforge/internal/orchestrator"
	"github.com/lamim/examforge/internal/progress"
	"github.com/lamim/examforge/internal/writer"
	"github.com/lamim/examforge/pkg/models"
)

type generateFlags struct {
	resume     string
	course     string
	itemType   string
	total      int
	topicIDs   []int64
	noProgress bool
}

func newGenerateCmd() *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate items for every topic up to its weighted quota",
		Long: `Generate exam items for a course:
1. Distribute the target total across topics by weight
2. Subtract items already stored for each topic and type
3. Generate the remainder topic by topic, highest weight first

Interrupt once (Ctrl-C) to stop after the current item; accepted items are kept.
Send SIGUSR1 to pause or resume.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(f)
		},
	}

	cmd.Flags().StringVar(&f.resume, "resume", "", "Resume into an existing session directory (e.g. session_2026-01-02T15-04-05)")
	cmd.Flags().StringVar(&f.course, "course", "", "Course ID (overrides generation.course_id)")
	cmd.Flags().StringVar(&f.itemType, "type", "", "Item type: MCQ, MSQ, NAT or SUBJECTIVE (overrides generation.item_type)")
	cmd.Flags().IntVar(&f.total, "total", 0, "Target total (overrides generation.target_total)")
	cmd.Flags().Int64SliceVar(&f.topicIDs, "topic", nil, "Restrict the run to these topic IDs")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

func runGenerate(f generateFlags) error {
	a, err := newApp(appOptions{session: true, resume: f.resume, credentials: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := applyGenerateOverrides(a, f); err != nil {
		return err
	}

	sessionDir := a.session.GetSessionDir()
	a.logger.Info("examforge starting",
		"version", Version,
		"config", configPath,
		"session_dir", sessionDir,
		"resume_mode", f.resume != "")

	if f.resume == "" {
		if err := a.session.BackupConfig(configPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	checkpointMgr, err := openCheckpoint(a, f.resume != "")
	if err != nil {
		return err
	}
	defer func() {
		if err := checkpointMgr.Close(); err != nil {
			a.logger.Error("Failed to close checkpoint", "error", err)
		}
	}()

	archive, err := writer.NewItemArchive(a.session, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create item archive: %w", err)
	}
	defer func() {
		if err := archive.Close(); err != nil {
			a.logger.Error("Failed to close item archive", "error", err)
		}
	}()

	sinks := progress.Multi{progress.NewLogSink(a.logger)}
	var bar *progress.BarSink
	if !f.noProgress && !verbose {
		bar = progress.NewBarSink(os.Stderr, "Generating", a.cfg.Generation.TargetTotal)
		sinks = append(sinks, bar)
	}

	control := orchestrator.NewControl()
	orch := orchestrator.New(a.cfg, a.store, a.clients(), a.logger,
		orchestrator.WithProgress(sinks),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithCheckpoint(checkpointMgr),
		orchestrator.WithArchive(archive),
		orchestrator.WithControl(control))

	var stats *models.SessionStats
	err = a.runJob(control, func(ctx context.Context) error {
		var runErr error
		stats, runErr = orch.Run(ctx, orchestrator.RunRequest{TopicIDs: f.topicIDs})
		return runErr
	})
	if bar != nil {
		bar.Close()
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			name := filepath.Base(sessionDir)
			a.logger.Warn("Generation aborted; accepted items are stored",
				"session_dir", name,
				"resume_command", fmt.Sprintf("examforge generate --resume %s", name))
			return fmt.Errorf("generation aborted (resume with --resume %s)", name)
		}
		return fmt.Errorf("generation failed: %w", err)
	}

	printRunSummary(stats, sessionDir, archive.Count())
	return nil
}

// applyGenerateOverrides folds command-line overrides into the configuration
// so the checkpoint hash reflects what actually runs
func applyGenerateOverrides(a *app, f generateFlags) error {
	gen := &a.cfg.Generation
	if f.course != "" {
		gen.CourseID = f.course
	}
	if f.itemType != "" {
		t, err := models.ParseItemType(f.itemType)
		if err != nil {
			return err
		}
		gen.ItemType = string(t)
	}
	if f.total > 0 {
		gen.TargetTotal = f.total
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid overrides: %w", err)
	}
	return nil
}

func openCheckpoint(a *app, resume bool) (*checkpoint.Manager, error) {
	sessionDir := a.session.GetSessionDir()
	if !resume {
		return checkpoint.NewManager(sessionDir, a.cfg, a.logger), nil
	}

	cp, err := checkpoint.Load(sessionDir, a.logger)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("Session has no checkpoint, starting a fresh one", "session_dir", sessionDir)
		return checkpoint.NewManager(sessionDir, a.cfg, a.logger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.ValidateCheckpoint(cp, a.cfg); err != nil {
		return nil, fmt.Errorf("checkpoint validation failed: %w", err)
	}
	a.logger.Info("Loaded checkpoint",
		"phase", cp.CurrentPhase,
		"accepted", checkpoint.GetCompletedCount(cp),
		"progress", fmt.Sprintf("%.1f%%", checkpoint.GetProgressPercentage(cp)))
	return checkpoint.NewManagerFromCheckpoint(sessionDir, cp, a.cfg, a.logger), nil
}

func printRunSummary(stats *models.SessionStats, sessionDir string, archived int) {
	if stats == nil {
		return
	}
	status := "complete"
	if stats.Stopped {
		status = "stopped"
	}
	fmt.Println()
	fmt.Printf("Generation %s\n", status)
	fmt.Printf("  Topics:            %d / %d\n", stats.TopicsCompleted, stats.TopicsPlanned)
	if stats.TopicsFailed > 0 {
		fmt.Printf("  Topics failed:     %d (storage errors, see log)\n", stats.TopicsFailed)
	}
	fmt.Printf("  Accepted:          %d / %d\n", stats.AcceptedCount, stats.ItemsTarget)
	fmt.Printf("  Skipped:           %d\n", stats.SkippedCount)
	fmt.Printf("  Rejected attempts: %d\n", stats.RejectedCount)
	fmt.Printf("  Duration:          %s\n", stats.TotalDuration.Round(time.Second))
	if stats.AcceptedCount > 0 {
		fmt.Printf("  Per item:          %s\n", stats.AverageDuration.Round(time.Millisecond))
	}
	fmt.Printf("  Archived:          %d\n", archived)
	fmt.Printf("  Session:           %s\n", sessionDir)
}
