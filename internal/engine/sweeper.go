package engine

import (
	"context"
	"time"

	"log/slog"

	"github.com/RealZimboGuy/convoflow/internal/config"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
)

// StartExpirySweeper periodically moves transactions nobody has touched
// within the expiry window to the expired lifecycle state. This is an
// out-of-band operational policy; nothing in the synchronous detection
// path depends on it.
func StartExpirySweeper(ctx context.Context, repo TransactionRepo, events TransactionEventRepo, clock core.Clock) {
	dur, err := time.ParseDuration(config.GetSystemSettingString(config.EXPIRY_SWEEP_INTERVAL))
	if err != nil || dur <= 0 {
		dur = time.Minute
	}
	maxAgeMinutes := config.GetSystemSettingInteger(config.TRANSACTION_EXPIRY_MINUTES)
	if maxAgeMinutes <= 0 {
		slog.Info("Transaction expiry disabled")
		return
	}

	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	slog.Info("Starting expiry sweeper", "interval", dur.String(), "expiry_minutes", maxAgeMinutes)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Expiry sweeper stopping due to context cancel")
			return
		case <-ticker.C:
			sweepOnce(repo, events, clock, maxAgeMinutes)
		}
	}
}

func sweepOnce(repo TransactionRepo, events TransactionEventRepo, clock core.Clock, maxAgeMinutes int) {
	cutoff := clock.Now().UTC().Add(-time.Duration(maxAgeMinutes) * time.Minute)
	stale, err := repo.FindStaleActive(cutoff, 100)
	if err != nil {
		slog.Error("Error finding stale transactions", "error", err)
		return
	}
	for _, tx := range stale {
		slog.Warn("Expiring stale transaction", "id", tx.ID, "external_id", tx.ExternalID, "state", tx.State, "updated_at", tx.UpdatedAt)
		if err := repo.Expire(tx.ID); err != nil {
			slog.Error("Failed to expire transaction", "id", tx.ID, "error", err)
			continue
		}
		_, _ = events.Save(&domain.TransactionEvent{
			TransactionID: tx.ID,
			Type:          EventExpired,
			Name:          tx.TransactionType,
			Text:          "Expired after inactivity in state " + tx.State,
			DateTime:      clock.Now(),
		})
	}
}
