package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/apperrors"
)

type fakeSpendQuery struct {
	today float64
	err   error
}

func (f fakeSpendQuery) SumSpentToday(ctx context.Context) (float64, error) { return f.today, f.err }

func usd(v float64) *float64 { return &v }

func TestAssertWithinBudget(t *testing.T) {
	tests := []struct {
		name          string
		policy        BudgetPolicy
		spentSoFar    float64
		nextCost      float64
		today         float64
		wantErr       bool
		wantScope     string
	}{
		{
			name:   "no caps always passes",
			policy: BudgetPolicy{},
		},
		{
			name:       "within run cap passes",
			policy:     BudgetPolicy{MaxUsdPerRun: usd(10)},
			spentSoFar: 5,
			nextCost:   4,
		},
		{
			name:       "exceeds run cap fails",
			policy:     BudgetPolicy{MaxUsdPerRun: usd(10)},
			spentSoFar: 8,
			nextCost:   3,
			wantErr:    true,
			wantScope:  "run",
		},
		{
			name:     "exceeds day cap fails",
			policy:   BudgetPolicy{MaxUsdPerDay: usd(5)},
			today:    4,
			nextCost: 2,
			wantErr:  true,
			wantScope: "day",
		},
		{
			name:     "within day cap passes",
			policy:   BudgetPolicy{MaxUsdPerDay: usd(5)},
			today:    1,
			nextCost: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertWithinBudget(context.Background(), tt.policy, tt.spentSoFar, tt.nextCost, fakeSpendQuery{today: tt.today})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var budgetErr *apperrors.BudgetExceededError
			require.ErrorAs(t, err, &budgetErr)
			assert.Equal(t, tt.wantScope, budgetErr.Scope)
			assert.False(t, apperrors.Retriable(err))
		})
	}
}

func TestComputeCostUsd(t *testing.T) {
	cost := ComputeCostUsd(3.0, 15.0, 1_000_000, 500_000)
	assert.InDelta(t, 3.0+7.5, cost, 1e-9)
}
