package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/orchestrator"
	"github.com/lamim/examforge/internal/progress"
	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/pkg/models"
)

func newSolveCmd() *cobra.Command {
	var topicIDs []int64
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Backfill answers and explanations for reference items",
		Long: `Ask the solver model for the answer and explanation of every reference item
(PYQ) missing either. Only those two fields are written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{credentials: true})
			if err != nil {
				return err
			}
			defer a.Close()

			control := orchestrator.NewControl()
			orch := orchestrator.New(a.cfg, a.store, a.clients(), a.logger,
				orchestrator.WithProgress(progress.NewLogSink(a.logger)),
				orchestrator.WithMetrics(a.metrics),
				orchestrator.WithControl(control))

			var report *orchestrator.SolveReport
			err = a.runJob(control, func(ctx context.Context) error {
				var runErr error
				report, runErr = orch.SolveMissing(ctx, topicIDs)
				return runErr
			})
			if report != nil {
				fmt.Printf("Reference items: %d (already complete: %d)\n", report.Total, report.AlreadyComplete)
				fmt.Printf("Solved: %d  Failed: %d\n", report.Solved, report.Failed)
				if report.Stopped {
					fmt.Println("Stopped before all items were processed.")
				}
			}
			return err
		},
	}
	cmd.Flags().Int64SliceVar(&topicIDs, "topic", nil, "Restrict to these topic IDs")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var (
		topicIDs []int64
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-derive answers of stored items and record a verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{credentials: true})
			if err != nil {
				return err
			}
			defer a.Close()

			control := orchestrator.NewControl()
			orch := orchestrator.New(a.cfg, a.store, a.clients(), a.logger,
				orchestrator.WithProgress(progress.NewLogSink(a.logger)),
				orchestrator.WithMetrics(a.metrics),
				orchestrator.WithControl(control))

			var report *orchestrator.ValidationReport
			err = a.runJob(control, func(ctx context.Context) error {
				var runErr error
				report, runErr = orch.ValidateItems(ctx, topicIDs, !all)
				return runErr
			})
			if report != nil {
				fmt.Printf("Checked: %d  Valid: %d  Invalid: %d  No verdict: %d\n",
					report.Checked, report.Valid, report.Invalid, report.Errors)
				for _, e := range report.Flagged {
					fmt.Printf("  #%d %s\n      %s\n", e.ID, util.TruncateString(e.Statement, 70), e.Reason)
				}
			}
			return err
		},
	}
	cmd.Flags().Int64SliceVar(&topicIDs, "topic", nil, "Restrict to these topic IDs")
	cmd.Flags().BoolVar(&all, "all", false, "Re-validate items that already have a verdict")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var (
		topicID   int64
		imagePath string
		textPath  string
		itemType  string
		year      int
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract reference items from a question paper image or text",
		RunE: func(cmd *cobra.Command, args []string) error {
			if imagePath == "" && textPath == "" {
				return fmt.Errorf("one of --image or --text-file is required")
			}
			t, err := parseOptionalType(itemType)
			if err != nil {
				return err
			}

			a, err := newApp(appOptions{credentials: true})
			if err != nil {
				return err
			}
			defer a.Close()

			topic, err := findTopic(cmd.Context(), a, topicID)
			if err != nil {
				return err
			}
			req := orchestrator.ExtractRequest{TopicID: topic.ID, TopicName: topic.Name, ItemType: t, Year: year}
			if imagePath != "" {
				if req.Image, err = api.LoadImage(imagePath); err != nil {
					return err
				}
			}
			if textPath != "" {
				data, err := os.ReadFile(textPath)
				if err != nil {
					return fmt.Errorf("failed to read text file: %w", err)
				}
				req.Text = string(data)
			}

			orch := orchestrator.New(a.cfg, a.store, a.clients(), a.logger, orchestrator.WithMetrics(a.metrics))
			var report *orchestrator.ExtractReport
			err = a.runJob(orch.Control(), func(ctx context.Context) error {
				var runErr error
				report, runErr = orch.ExtractReferenceItems(ctx, req)
				return runErr
			})
			if err != nil {
				return err
			}
			printExtractReport(report)
			return nil
		},
	}
	cmd.Flags().Int64Var(&topicID, "topic-id", 0, "Topic the extracted items belong to")
	cmd.Flags().StringVar(&imagePath, "image", "", "Question paper image (png, jpeg, webp or gif)")
	cmd.Flags().StringVar(&textPath, "text-file", "", "Question paper as plain text")
	cmd.Flags().StringVar(&itemType, "type", "", "Expected item type (default generation.item_type)")
	cmd.Flags().IntVar(&year, "year", 0, "Exam year for items that do not state one")
	_ = cmd.MarkFlagRequired("topic-id")
	return cmd
}

func newPYQCmd() *cobra.Command {
	pyqCmd := &cobra.Command{
		Use:   "pyq",
		Short: "Manage reference items (previous-year questions)",
	}

	var (
		topicID  int64
		itemType string
	)
	importCmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import reference items from a JSON array",
		Long: `Import reference items from a JSON array of objects with the fields
question, type, options, answer, explanation and year. Code fences and
trailing commas are tolerated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseOptionalType(itemType)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}

			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := findTopic(cmd.Context(), a, topicID); err != nil {
				return err
			}
			orch := orchestrator.New(a.cfg, a.store, orchestrator.Clients{}, a.logger)
			report, err := orch.ImportReferenceItems(cmd.Context(), topicID, t, data)
			if err != nil {
				return err
			}
			printExtractReport(report)
			return nil
		},
	}
	importCmd.Flags().Int64Var(&topicID, "topic-id", 0, "Topic the imported items belong to")
	importCmd.Flags().StringVar(&itemType, "type", "", "Type for items that do not state one (default generation.item_type)")
	_ = importCmd.MarkFlagRequired("topic-id")

	pyqCmd.AddCommand(importCmd)
	return pyqCmd
}

func parseOptionalType(s string) (models.ItemType, error) {
	if s == "" {
		return "", nil
	}
	return models.ParseItemType(s)
}

func printExtractReport(r *orchestrator.ExtractReport) {
	fmt.Printf("Found: %d  Stored: %d  Rejected: %d\n", r.Found, r.Stored, r.Rejected)
	if len(r.Reasons) > 0 {
		fmt.Println("  " + strings.Join(r.Reasons, "\n  "))
	}
}
