package summarize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/llmclient"
	"github.com/journalctl/core/internal/models"
)

func TestSummarize_StubModelShortCircuits(t *testing.T) {
	svc := NewService(nil)

	result, err := svc.Summarize(context.Background(), Request{
		BundleText: "# SOURCE: chatgpt\n[2026-01-01T00:00:00Z] user: hello",
		Model:      models.StubModel,
	}, models.PricingSnapshot{}, llmclient.BudgetPolicy{}, 0, nil)

	require.NoError(t, err)
	assert.Contains(t, result.Text, "Summary (stub)")
	assert.Zero(t, result.CostUsd)
	assert.Zero(t, result.TokensIn)
	assert.Zero(t, result.TokensOut)
}

func TestSummarize_StubTextIsDeterministic(t *testing.T) {
	svc := NewService(nil)
	bundleText := strings.Repeat("x", 42)

	r1, err1 := svc.Summarize(context.Background(), Request{BundleText: bundleText, Model: models.StubModel}, models.PricingSnapshot{}, llmclient.BudgetPolicy{}, 0, nil)
	r2, err2 := svc.Summarize(context.Background(), Request{BundleText: bundleText, Model: models.StubModel}, models.PricingSnapshot{}, llmclient.BudgetPolicy{}, 0, nil)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1.Text, r2.Text)
}

func TestSummarize_NonStubModelRequiresLlmClient(t *testing.T) {
	svc := NewService(nil)

	assert.Panics(t, func() {
		_, _ = svc.Summarize(context.Background(), Request{
			BundleText: "text",
			Model:      "gpt-4o-mini",
		}, models.PricingSnapshot{Model: "gpt-4o-mini"}, llmclient.BudgetPolicy{}, 0, nil)
	})
}
