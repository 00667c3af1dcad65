package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/pipeline"
	"github.com/sells-group/devtools-research/internal/progress"
)

const saveTimeout = 10 * time.Second

var (
	researchQuery       string
	researchOut         string
	researchConcurrency int
	researchModel       string
	researchTemperature float64
	researchQuiet       bool
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Research developer tools for a query",
	Long:  "Finds candidate tools for the query, researches each one, and prints the result JSON to stdout. Progress goes to stderr; Ctrl-C cancels the run and keeps what was finished.",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := pipeline.ValidateQuery(researchQuery)
		if err != nil {
			return err
		}
		applyResearchFlags(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initResearch(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runID := uuid.NewString()
		if _, err := env.Store.CreateRun(ctx, runID, query); err != nil {
			return eris.Wrap(err, "record run")
		}

		var out io.Writer = os.Stderr
		if researchQuiet {
			out = io.Discard
		}
		events := progress.NewChannel(64)
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for ev := range events.Events() {
				fmt.Fprintln(out, formatProgress(ev))
			}
		}()

		outcome, runErr := env.Pipeline.RunWithID(ctx, runID, query, events)
		events.Close()
		<-printed

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
		}
		if err := env.Store.SaveOutcome(saveCtx, outcome, errMsg); err != nil {
			zap.L().Error("save outcome failed", zap.String("run_id", runID), zap.Error(err))
		}

		if researchOut != "" {
			if err := exportResult(researchOut, outcome.Result); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome.Result); err != nil {
			return eris.Wrap(err, "write result")
		}
		return runErr
	},
}

func init() {
	researchCmd.Flags().StringVarP(&researchQuery, "query", "q", "", "what kind of developer tool to research (required)")
	researchCmd.Flags().StringVarP(&researchOut, "out", "o", "", "also write the result to this file (.json, .yaml, .yml)")
	researchCmd.Flags().IntVar(&researchConcurrency, "concurrency", 0, "tools researched in parallel (default from config)")
	researchCmd.Flags().StringVar(&researchModel, "model", "", "Claude model (default from config)")
	researchCmd.Flags().Float64Var(&researchTemperature, "temperature", 0, "sampling temperature 0-1 (default from config)")
	researchCmd.Flags().BoolVar(&researchQuiet, "quiet", false, "suppress progress output")
	_ = researchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(researchCmd)
}

// applyResearchFlags overrides config values with flags the user set.
func applyResearchFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("concurrency") {
		cfg.Research.Concurrency = researchConcurrency
	}
	if cmd.Flags().Changed("model") {
		cfg.Anthropic.Model = researchModel
	}
	if cmd.Flags().Changed("temperature") {
		cfg.Research.Temperature = researchTemperature
	}
}

// formatProgress renders one event as a single stderr line.
func formatProgress(ev model.Event) string {
	switch ev.Kind {
	case model.EventStageStarted:
		return fmt.Sprintf("[%s] started", ev.Stage)
	case model.EventStageCompleted:
		return fmt.Sprintf("[%s] done", ev.Stage)
	case model.EventToolProgress:
		return fmt.Sprintf("  %s: %s", ev.Tool, ev.ToolStatus)
	case model.EventWorkflowFinished:
		if ev.Result == nil {
			return "finished"
		}
		return fmt.Sprintf("finished: %s, %d tool(s)", ev.Result.Status, len(ev.Result.Tools))
	case model.EventWorkflowFailed:
		return "failed: " + ev.Reason
	default:
		return string(ev.Kind)
	}
}

// exportResult writes result to path as YAML when the extension asks for
// it and as indented JSON otherwise.
func exportResult(path string, result model.WorkflowResult) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = marshalYAML(result)
	default:
		data, err = json.MarshalIndent(result, "", "  ")
	}
	if err != nil {
		return eris.Wrap(err, "export: marshal result")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
