// Package summarize is the glue between a bundle (or one of its segments),
// the frozen run config, and the LLM client, producing one summary text per
// call (spec §4.I).
package summarize

import (
	"context"
	"fmt"

	"github.com/journalctl/core/internal/llmclient"
	"github.com/journalctl/core/internal/models"
)

// Request identifies one summarize call: a single bundle or segment's text
// plus the prompt/model it should be summarised under.
type Request struct {
	BundleText           string
	Model                string
	PromptVersionID      string
	PromptTemplateText   string
	EstimatedInputTokens int
}

// Result is what one Summarize call produced.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
	CostUsd   float64
}

// Service summarises bundle text, either via the stub placeholder or a real
// LLM call through llmclient.Client.
type Service struct {
	LLM *llmclient.Client
}

// NewService builds a summarize Service. llm may be nil if only the stub
// model will ever be summarised.
func NewService(llm *llmclient.Client) *Service {
	return &Service{LLM: llm}
}

// Summarize runs spec §4.I: the stub model short-circuits to a deterministic
// placeholder at zero cost; any other model goes through callLlm, which
// applies the rate limiter and budget guard (spec §4.F, §4.H step 7).
func (s *Service) Summarize(ctx context.Context, req Request, snapshot models.PricingSnapshot, policy llmclient.BudgetPolicy, spentUsdSoFar float64, spendQuery llmclient.SpendQuery) (Result, error) {
	if req.Model == models.StubModel {
		return Result{Text: stubSummaryText(req.BundleText)}, nil
	}

	outcome, err := s.LLM.CallLlm(ctx, req.PromptTemplateText, req.BundleText, snapshot, policy, spentUsdSoFar, spendQuery, req.EstimatedInputTokens)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: outcome.Text, TokensIn: outcome.TokensIn, TokensOut: outcome.TokensOut, CostUsd: outcome.CostUsd}, nil
}

// stubSummaryText builds the deterministic placeholder the stub model
// returns. It must contain the substring "Summary (stub)" (spec §4.I).
func stubSummaryText(bundleText string) string {
	return fmt.Sprintf("Summary (stub): %d characters of journal entries summarized deterministically.", len(bundleText))
}
