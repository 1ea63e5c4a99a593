package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"medical-ai-agent/internal/config"
	"medical-ai-agent/internal/ingest"
	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/telemetry"
	"medical-ai-agent/internal/vectorindex"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Chunk clinic documents and rebuild the FAQ/passage artifacts serve and evaluate load",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "directory containing clinic.json and free-text documents (required)")
	ingestCmd.MarkFlagRequired("source")
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := telemetry.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	result, err := ingest.Run(ingestSource, ingest.DefaultChunkSize, ingest.DefaultOverlap)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := knowledge.SaveKnowledgeBase(cfg.KnowledgeBasePath, result.FAQs, result.Profile); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := vectorindex.SavePassages(cfg.PassagesPath, result.Passages); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	log.Info("ingested %d FAQs and %d passages from %s -> %s, %s",
		len(result.FAQs), len(result.Passages), ingestSource, cfg.KnowledgeBasePath, cfg.PassagesPath)
	return nil
}
