package llmclient

import (
	"context"

	"github.com/journalctl/core/internal/apperrors"
)

// BudgetPolicy caps spend per run and per calendar day (spec §4.F "Budget
// guard"). A nil pointer means "no cap".
type BudgetPolicy struct {
	MaxUsdPerRun *float64
	MaxUsdPerDay *float64
}

// SpendQuery resolves the live aggregates the budget guard compares
// against. Implemented by the store package; kept here as a narrow
// interface so the guard stays unit-testable without a database.
type SpendQuery interface {
	SumSpentToday(ctx context.Context) (float64, error)
}

// AssertWithinBudget compares spentUsdSoFar+nextCostUsd against
// policy.MaxUsdPerRun and the live calendar-day aggregate against
// policy.MaxUsdPerDay. Returns a non-retriable BudgetExceededError on
// violation (spec §4.F).
func AssertWithinBudget(ctx context.Context, policy BudgetPolicy, spentUsdSoFar, nextCostUsd float64, q SpendQuery) error {
	if policy.MaxUsdPerRun != nil {
		projected := spentUsdSoFar + nextCostUsd
		if projected > *policy.MaxUsdPerRun {
			return &apperrors.BudgetExceededError{
				Scope: "run", LimitUsd: *policy.MaxUsdPerRun,
				AttemptUsd: nextCostUsd, AlreadySpent: spentUsdSoFar,
			}
		}
	}
	if policy.MaxUsdPerDay != nil {
		spentToday, err := q.SumSpentToday(ctx)
		if err != nil {
			return err
		}
		if spentToday+nextCostUsd > *policy.MaxUsdPerDay {
			return &apperrors.BudgetExceededError{
				Scope: "day", LimitUsd: *policy.MaxUsdPerDay,
				AttemptUsd: nextCostUsd, AlreadySpent: spentToday,
			}
		}
	}
	return nil
}

// ComputeCostUsd prices tokensIn/tokensOut against a frozen pricing
// snapshot's rates, never the live pricing book (spec §4.F, §5 "Pricing
// snapshot ... governs cost computation even if the pricing book changes
// later").
func ComputeCostUsd(inputPer1MUsd, outputPer1MUsd float64, tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1_000_000*inputPer1MUsd + float64(tokensOut)/1_000_000*outputPer1MUsd
}
