package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SetProbation ставит испытательный срок d и зеркалирует флаг в кэш. При d <= 0 ничего не делает.
func (l *Ledger) SetProbation(ctx context.Context, p *Profile, chatID, userID int64, username string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	var usernameP *string
	if username != "" {
		usernameP = &username
	}

	now := l.Now().UTC()
	if err := l.store.SetProbation(ctx, p.SettingsID, userID, usernameP, now, now.Add(d)); err != nil {
		return fmt.Errorf("set probation: %w", err)
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, probationKey(chatID, userID), "1", d); err != nil {
			slog.Warn("failed to mirror probation flag", "chat", chatID, "user", userID, "err", err)
		}
	}
	return nil
}

// IsUserInProbation: сначала probation_until из БД, затем TTL флага в кэше
// (на случай, если запись в БД ещё не видна).
func (l *Ledger) IsUserInProbation(ctx context.Context, p *Profile, chatID, userID int64) (bool, error) {
	now := l.Now().UTC()
	rec, err := l.store.GetInfraction(ctx, p.SettingsID, userID)
	if err != nil {
		return false, fmt.Errorf("load infraction: %w", err)
	}

	if rec != nil && rec.ProbationUntil != nil {
		// pgx отдаёт timestamp без зоны как UTC
		until := rec.ProbationUntil.UTC()
		if until.After(now) {
			if l.cache != nil {
				remaining := until.Sub(now).Truncate(time.Second)
				if remaining > 0 {
					if err := l.cache.Set(ctx, probationKey(chatID, userID), "1", remaining); err != nil {
						slog.Warn("failed to refresh probation flag", "chat", chatID, "user", userID, "err", err)
					}
				}
			}
			return true, nil
		}
	}

	if l.cache != nil {
		ttl, err := l.cache.TTL(ctx, probationKey(chatID, userID))
		if err != nil {
			slog.Warn("probation cache unavailable", "chat", chatID, "user", userID, "err", err)
			return false, nil
		}
		if ttl > 0 {
			return true, nil
		}
	}
	return false, nil
}
