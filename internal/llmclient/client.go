// Package llmclient implements the rate-limited, budget-guarded LLM calling
// contract shared by classify (real mode) and summarize (spec §4.F).
package llmclient

import (
	"context"
	"fmt"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/config"
	"github.com/journalctl/core/internal/models"
)

// Client wires a rate limiter, a pricing book, and the two provider
// adapters behind the single callLlm contract (spec §4.F "callLlm").
type Client struct {
	limiter    *RateLimiter
	pricing    *config.PricingBook
	openAI     Provider
	anthropic  Provider
}

// NewClient builds a Client. Either provider may be nil if its credential
// is absent; callLlm only resolves the adapter it actually needs.
func NewClient(limiter *RateLimiter, pricing *config.PricingBook, openAI, anthropic Provider) *Client {
	return &Client{limiter: limiter, pricing: pricing, openAI: openAI, anthropic: anthropic}
}

// CallOutcome is one callLlm invocation's result: the text, token counts,
// and the cost computed against the job's frozen pricing snapshot.
type CallOutcome struct {
	Text      string
	TokensIn  int
	TokensOut int
	CostUsd   float64
}

// resolveProvider picks the adapter for model, per spec §4.F "inferProvider
// selects the adapter from the model string".
func (c *Client) resolveProvider(model string) (Provider, error) {
	providerName, ok := config.InferProvider(model)
	if !ok {
		return nil, fmt.Errorf("cannot infer provider for model %q", model)
	}
	switch providerName {
	case "openai":
		if c.openAI == nil {
			return nil, &apperrors.MissingApiKeyError{Provider: "openai", EnvVar: "OPENAI_API_KEY"}
		}
		return c.openAI, nil
	case "anthropic":
		if c.anthropic == nil {
			return nil, &apperrors.MissingApiKeyError{Provider: "anthropic", EnvVar: "ANTHROPIC_API_KEY"}
		}
		return c.anthropic, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", providerName)
	}
}

// CallLlm runs the full spec §4.F sequence: rate-limit, budget pre-check,
// provider call, cost computed from pricingSnapshot (never the live book),
// budget post-check. spentUsdSoFar is the caller's running total for the
// scope policy.MaxUsdPerRun applies to (typically: existing DB spend for
// the run plus whatever has already been accumulated this job).
// estimatedInputTokens prices the pre-call guard (spec §4.H step 7 "assert
// budget (existingRunSpend + accumulatedThisJob + estimatedNextCost <=
// cap)"); output tokens are unknown before the call, so the estimate is
// input-only and therefore a lower bound on the call's eventual cost.
func (c *Client) CallLlm(ctx context.Context, systemPrompt, userContent string, snapshot models.PricingSnapshot, policy BudgetPolicy, spentUsdSoFar float64, spendQuery SpendQuery, estimatedInputTokens int) (CallOutcome, error) {
	if snapshot.Model == models.StubModel {
		return CallOutcome{}, fmt.Errorf("callLlm must not be invoked for the stub model")
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return CallOutcome{}, apperrors.NewLlmProviderError(snapshot.Provider, err)
	}

	provider, err := c.resolveProvider(snapshot.Model)
	if err != nil {
		return CallOutcome{}, err
	}

	estimatedCostUsd := ComputeCostUsd(snapshot.InputPer1MUsd, 0, estimatedInputTokens, 0)
	if err := AssertWithinBudget(ctx, policy, spentUsdSoFar, estimatedCostUsd, spendQuery); err != nil {
		return CallOutcome{}, err
	}

	result, err := provider.Complete(ctx, systemPrompt, userContent, snapshot.Model)
	if err != nil {
		return CallOutcome{}, err
	}

	costUsd := ComputeCostUsd(snapshot.InputPer1MUsd, snapshot.OutputPer1MUsd, result.TokensIn, result.TokensOut)

	if err := AssertWithinBudget(ctx, policy, spentUsdSoFar, costUsd, spendQuery); err != nil {
		return CallOutcome{}, err
	}

	return CallOutcome{Text: result.Text, TokensIn: result.TokensIn, TokensOut: result.TokensOut, CostUsd: costUsd}, nil
}
