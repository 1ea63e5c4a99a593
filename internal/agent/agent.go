// Package agent declares the single contract every specialized agent
// implements and the canonical names the Supervisor and orchestrator
// dispatch by.
package agent

import (
	"context"

	"medical-ai-agent/internal/turn"
)

// Agent mutates TurnState in place and never raises past Run: failures are
// recorded as warnings in state.Messages or as a degraded result, never as
// a panic or unhandled error reaching the loop.
type Agent interface {
	Run(ctx context.Context, state *turn.State) error
}

const (
	NameConversation   = "conversation_agent"
	NameAppointment    = "appointment_agent"
	NameImageAnalyzer  = "image_analyzer"
	NameSymptomExtract = "symptom_extractor"
	NameDiagnosis      = "diagnosis_engine"
	NameInvestigation  = "investigation_generator"
	NameRetriever      = "document_retriever"
	NameRecommender    = "recommender"
	Terminate          = "TERMINATE"
)
