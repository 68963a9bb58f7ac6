package cmd

import (
	"context"
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/audit/internal/llm"
)

// findingExtractor turns a free-text audit report into findings.
type findingExtractor interface {
	ExtractFindings(ctx context.Context, content string, teams []string, today string) ([]llm.ExtractedFinding, error)
}

// newExtractor is replaceable in tests.
var newExtractor = func() findingExtractor {
	if c := newLLMClient(); c != nil {
		return c
	}
	return nil
}

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}
