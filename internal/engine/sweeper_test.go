package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceExpiresStaleTransactions(t *testing.T) {
	stale := []domain.Transaction{
		{ID: 1, ExternalID: "ext-1", TransactionType: "drink_order", State: "awaiting_payment"},
		{ID: 2, ExternalID: "ext-2", TransactionType: "bar_tab", State: "tab_open"},
	}
	var gotCutoff time.Time
	var expired []int64
	repo := &MockTransactionRepo{
		FindStaleActiveFunc: func(cutoff time.Time, limit int) ([]domain.Transaction, error) {
			gotCutoff = cutoff
			return stale, nil
		},
		ExpireFunc: func(id int64) error {
			expired = append(expired, id)
			return nil
		},
	}
	events := &MockEventRepo{}
	clock := core.NewRealClock()

	sweepOnce(repo, events, clock, 30)

	assert.Equal(t, []int64{1, 2}, expired)
	assert.WithinDuration(t, clock.Now().UTC().Add(-30*time.Minute), gotCutoff, time.Second)

	require.Len(t, events.Saved, 2)
	assert.Equal(t, EventExpired, events.Saved[0].Type)
	assert.Equal(t, int64(1), events.Saved[0].TransactionID)
	assert.Equal(t, "drink_order", events.Saved[0].Name)
}

func TestSweepOnceSkipsFailedExpiry(t *testing.T) {
	stale := []domain.Transaction{
		{ID: 1, State: "awaiting_payment"},
		{ID: 2, State: "tab_open"},
	}
	repo := &MockTransactionRepo{
		FindStaleActiveFunc: func(cutoff time.Time, limit int) ([]domain.Transaction, error) {
			return stale, nil
		},
		ExpireFunc: func(id int64) error {
			if id == 1 {
				return errors.New("already gone")
			}
			return nil
		},
	}
	events := &MockEventRepo{}

	sweepOnce(repo, events, core.NewRealClock(), 30)

	require.Len(t, events.Saved, 1)
	assert.Equal(t, int64(2), events.Saved[0].TransactionID)
}

func TestSweepOnceFindErrorIsNonFatal(t *testing.T) {
	repo := &MockTransactionRepo{
		FindStaleActiveFunc: func(cutoff time.Time, limit int) ([]domain.Transaction, error) {
			return nil, errors.New("db unavailable")
		},
	}
	events := &MockEventRepo{}

	sweepOnce(repo, events, core.NewRealClock(), 30)
	assert.Empty(t, events.Saved)
}
