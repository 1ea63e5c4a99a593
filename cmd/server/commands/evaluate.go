package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"medical-ai-agent/internal/config"
	"medical-ai-agent/internal/eval"
	"medical-ai-agent/internal/telemetry"
)

var (
	evalDataset string
	evalOutput  string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Replay a scripted dataset through the engine and score the responses",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalDataset, "dataset", "", "path to the evaluation dataset JSON file (required)")
	evaluateCmd.Flags().StringVar(&evalOutput, "output", "evaluation_report.json", "path to write the scored JSON report")
	evaluateCmd.MarkFlagRequired("dataset")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	log := telemetry.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	ctx := context.Background()
	deps, err := buildEngine(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if deps.DB != nil {
		defer deps.DB.Close()
	}

	cases, err := eval.LoadDataset(evalDataset)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	log.Info("loaded %d evaluation cases from %s", len(cases), evalDataset)

	var judge eval.Judge
	if deps.LLMProvider != nil {
		judge = eval.NewLLMJudge(deps.LLMProvider)
	}
	runner := eval.NewRunner(deps.Engine, judge, log)
	report := runner.Run(ctx, cases)

	if err := eval.WriteReport(evalOutput, report); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	status := "FAIL"
	if report.OverallPass {
		status = "PASS"
	}
	log.Info("evaluation complete: %s (accuracy=%.1f%% fidelity=%.1f%% qualitative=%.1f%%), report written to %s",
		status, report.AvgAccuracy*100, report.AvgRuleFidelity*100, report.AvgQualitative*100, evalOutput)
	return nil
}
