package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/checkpoint"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/keypool"
	"github.com/lamim/examforge/internal/orchestrator"
	"github.com/lamim/examforge/internal/store"
	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/internal/writer"
	"github.com/lamim/examforge/pkg/models"
)

func newTopicCmd() *cobra.Command {
	topicCmd := &cobra.Command{
		Use:   "topic",
		Short: "Manage the topics of a course",
	}

	var (
		course string
		weight float64
	)
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a topic, or update the weight of an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if course == "" {
				course = a.cfg.Generation.CourseID
			}
			id, err := a.store.AddTopic(cmd.Context(), models.Topic{CourseID: course, Name: args[0], Weight: weight})
			if err != nil {
				return err
			}
			fmt.Printf("Topic %d: %s (course %s, weight %g)\n", id, args[0], course, weight)
			return nil
		},
	}
	addCmd.Flags().StringVar(&course, "course", "", "Course ID (default generation.course_id)")
	addCmd.Flags().Float64Var(&weight, "weight", 0, "Relative weight; 0 marks a topic that only gets an item in large runs")

	var listCourse string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List topics with the quota plan for the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			orch := orchestrator.New(a.cfg, a.store, orchestrator.Clients{}, a.logger)
			plan, err := orch.Plan(cmd.Context(), orchestrator.RunRequest{CourseID: listCourse})
			if errors.Is(err, orchestrator.ErrNoTopics) {
				fmt.Println("No topics found. Add one with: examforge topic add <name> --weight <w>")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Quota plan for %d %s items (%d weighted + %d zero-weight)\n\n",
				plan.Total(), a.cfg.ItemType(), plan.MainTotal, plan.ZeroWeightExtra)
			fmt.Printf("%-6s %-40s %8s %7s %9s %10s\n", "ID", "TOPIC", "WEIGHT", "QUOTA", "EXISTING", "REMAINING")
			fmt.Println(strings.Repeat("-", 85))
			for _, t := range plan.Targets {
				fmt.Printf("%-6d %-40s %8.3f %7d %9d %10d\n",
					t.TopicID, util.TruncateString(t.TopicName, 40), t.Weight, t.Quota, t.Existing, t.Remaining)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listCourse, "course", "", "Course ID (default generation.course_id)")

	topicCmd.AddCommand(addCmd)
	topicCmd.AddCommand(listCmd)
	return topicCmd
}

func newKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect the API key pool",
	}

	var ping bool
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Show the key pool without revealing keys",
		Long: `Show every configured key (masked) with its health. With --ping, send a
tiny request through the generator model with each key and record the outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{credentials: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if ping {
				pingKeys(cmd.Context(), a)
			}

			snap := a.pool.Snapshot()
			fmt.Printf("%d keys configured, %d active\n\n", len(snap), a.pool.ActiveCount())
			fmt.Printf("%-12s %-8s %6s %7s  %s\n", "KEY", "ACTIVE", "USES", "ERRORS", "LAST ERROR")
			for _, rec := range snap {
				fmt.Printf("%-12s %-8t %6d %7d  %s\n",
					keypool.Mask(rec.Key), rec.Active, rec.UsageCount, rec.ConsecutiveErrors, util.TruncateString(rec.LastError, 60))
			}
			return nil
		},
	}
	checkCmd.Flags().BoolVar(&ping, "ping", false, "Send a test request with each key")

	keysCmd.AddCommand(checkCmd)
	return keysCmd
}

// pingKeys sends one minimal request per key, bypassing rotation so every
// key is exercised exactly once
func pingKeys(ctx context.Context, a *app) {
	provider := a.provider(config.RoleGenerator)
	req := api.ProviderRequest{Prompt: "Reply with the single word OK.", MaxTokens: 8}

	for _, rec := range a.pool.Snapshot() {
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resp, err := provider.Generate(callCtx, req, rec.Key)
		cancel()

		switch {
		case err != nil:
			a.pool.RecordFailure(rec.Key, err.Error())
		case resp.Status == api.StatusSuccess:
			a.pool.RecordSuccess(rec.Key)
		default:
			a.pool.RecordFailure(rec.Key, fmt.Sprintf("%s (HTTP %d)", resp.Status, resp.HTTPStatus))
		}
	}
}

func newCheckpointCmd() *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
		Long:  "Inspect generation checkpoints of previous sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions and their checkpoint state",
		RunE:  listCheckpoints,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-dir>",
		Short: "Inspect a checkpoint",
		Long:  "Display detailed information about the checkpoint of a specific session",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)
	return checkpointCmd
}

// outputDir reads storage.output_dir from the config, falling back to the
// default when the config cannot be loaded
func outputDir() string {
	if cfg, _, err := config.Load(configPath); err == nil {
		return cfg.Storage.OutputDir
	}
	return "output"
}

func listCheckpoints(cmd *cobra.Command, args []string) error {
	dir := outputDir()
	sessions, err := writer.ListSessions(dir)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No session directories found. Run a generation first.")
		return nil
	}

	logger := slog.New(slog.DiscardHandler)
	fmt.Println("Available sessions:")
	fmt.Println()
	fmt.Printf("%-35s %-12s %-12s %s\n", "SESSION", "CHECKPOINT", "PHASE", "PROGRESS")
	fmt.Println(strings.Repeat("-", 80))

	for _, name := range sessions {
		hasCheckpoint := "No"
		phase := "N/A"
		progress := 0.0
		if cp, err := checkpoint.Load(filepath.Join(dir, name), logger); err == nil {
			hasCheckpoint = "Yes"
			phase = string(cp.CurrentPhase)
			progress = checkpoint.GetProgressPercentage(cp)
		}
		fmt.Printf("%-35s %-12s %-12s %.1f%%\n", name, hasCheckpoint, phase, progress)
	}
	return nil
}

func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	sessionName := args[0]
	dir := outputDir()

	if err := writer.ValidateSessionPath(dir, sessionName); err != nil {
		return fmt.Errorf("invalid session directory: %w", err)
	}
	fullPath := filepath.Join(dir, sessionName)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("session directory not found: %s", sessionName)
	}

	cp, err := checkpoint.Load(fullPath, slog.New(slog.DiscardHandler))
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	fmt.Printf("Checkpoint Information for: %s\n", sessionName)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Session ID:          %s\n", cp.SessionID)
	fmt.Printf("Created At:          %s\n", cp.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last Saved At:       %s\n", cp.LastSavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Current Phase:       %s\n", cp.CurrentPhase)
	fmt.Printf("Course / Type:       %s / %s\n", cp.CourseID, cp.ItemType)
	fmt.Printf("Target Total:        %d (%d weighted + %d zero-weight)\n", cp.TargetTotal, cp.MainTotal, cp.ZeroWeightExtra)
	fmt.Printf("Config Hash:         %s\n", cp.ConfigHash)
	fmt.Println()

	fmt.Printf("Items:               %d / %d accepted (%.1f%%)\n",
		checkpoint.GetCompletedCount(cp),
		checkpoint.GetTotalCount(cp),
		checkpoint.GetProgressPercentage(cp))
	fmt.Printf("Pending topics:      %d of %d\n", len(checkpoint.GetPendingTopics(cp)), len(cp.Topics))
	fmt.Println()

	fmt.Printf("%-40s %7s %9s %9s %8s %s\n", "TOPIC", "QUOTA", "EXISTING", "ACCEPTED", "SKIPPED", "STATUS")
	for _, tp := range cp.Topics {
		status := "pending"
		if tp.Done {
			status = "done"
		}
		fmt.Printf("%-40s %7d %9d %9d %8d %s\n", util.TruncateString(tp.TopicName, 40), tp.Quota, tp.Existing, tp.Accepted, tp.Skipped, status)
	}
	fmt.Println()

	fmt.Println("Statistics:")
	fmt.Printf("  Accepted:          %d\n", cp.Stats.AcceptedCount)
	fmt.Printf("  Skipped:           %d\n", cp.Stats.SkippedCount)
	fmt.Printf("  Rejected attempts: %d\n", cp.Stats.RejectedCount)
	fmt.Printf("  Total Duration:    %s\n", cp.Stats.TotalDuration)
	if cp.Stats.AcceptedCount > 0 {
		fmt.Printf("  Average Duration:  %s\n", cp.Stats.AverageDuration)
	}
	fmt.Println()

	if cp.CurrentPhase != models.PhaseComplete {
		fmt.Println("To resume this session, run:")
		fmt.Printf("  examforge generate --resume %s\n", sessionName)
	} else {
		fmt.Println("This session is complete.")
	}
	return nil
}

// findTopic loads a topic by ID with a readable error
func findTopic(ctx context.Context, a *app, id int64) (models.Topic, error) {
	t, err := a.store.GetTopic(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Topic{}, fmt.Errorf("topic %d does not exist (see examforge topic list)", id)
	}
	return t, err
}
