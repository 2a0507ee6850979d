package presale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"splguard/cachestore"
	"splguard/database"
	"splguard/quests"
)

const (
	SubmissionQuest  = "presale_submission"
	submitCooldown   = time.Minute
	spotCheckPercent = 0.1
)

type TxVerifier interface {
	Verify(ctx context.Context, signature, wallet string) Outcome
}

// QuestLedger: часть quests.Service, нужная для записи покупки
type QuestLedger interface {
	Member(ctx context.Context, telegramID int64) (*database.ZealyMember, error)
	TxSubmitted(ctx context.Context, txRef string) (bool, error)
	Quest(ctx context.Context, slug string, xpValue int) (*database.ZealyQuest, error)
	RecordGrant(ctx context.Context, m *database.ZealyMember, q *database.ZealyQuest,
		status database.GrantStatus, txRef string, xpAwarded *int) (*quests.GrantResult, error)
}

type SpotChecker interface {
	Push(ctx context.Context, e quests.DLQEntry) error
}

type Submission struct {
	Outcome Outcome
	// сработал кулдаун, проверка не выполнялась
	Cooldown  bool
	Grant     *quests.GrantResult
	SpotCheck bool
}

type Submitter struct {
	verifier TxVerifier
	quests   QuestLedger
	dlq      SpotChecker
	cache    cachestore.Store
	// Rand ∈ [0, 1); подменяется в тестах
	Rand func() float64
}

// NewSubmitter: cache == nil отключает кулдаун и выборочную проверку
func NewSubmitter(verifier TxVerifier, ql QuestLedger, dlq SpotChecker, cache cachestore.Store) *Submitter {
	return &Submitter{
		verifier: verifier,
		quests:   ql,
		dlq:      dlq,
		cache:    cache,
		Rand:     rand.Float64,
	}
}

// Submit проверяет покупку пользователя и начисляет XP за квест
// presale_submission. Отказы проверки возвращаются в Outcome, а error
// означает только сбои хранилища.
func (s *Submitter) Submit(ctx context.Context, telegramID int64, signature string) (Submission, error) {
	m, err := s.quests.Member(ctx, telegramID)
	if err != nil {
		return Submission{}, fmt.Errorf("get member: %w", err)
	}
	if m == nil || m.Wallet == nil || *m.Wallet == "" {
		return Submission{Outcome: fail(ReasonWalletNotLinked)}, nil
	}

	if s.cache != nil {
		key := "submit:cooldown:" + strconv.FormatInt(telegramID, 10)
		stored, err := s.cache.SetNX(ctx, key, "1", submitCooldown)
		if err != nil {
			slog.Warn("submit cooldown unavailable", "user_id", telegramID, "err", err)
		} else if !stored {
			return Submission{Cooldown: true}, nil
		}
	}

	submitted, err := s.quests.TxSubmitted(ctx, signature)
	if err != nil {
		return Submission{}, fmt.Errorf("check submitted tx: %w", err)
	}
	if submitted {
		return Submission{Outcome: fail(ReasonAlreadySubmitted)}, nil
	}

	out := s.verifier.Verify(ctx, signature, *m.Wallet)
	if !out.OK {
		return Submission{Outcome: out}, nil
	}

	quest, err := s.quests.Quest(ctx, SubmissionQuest, out.XPAwarded)
	if err != nil {
		return Submission{}, fmt.Errorf("get quest: %w", err)
	}
	xp := out.XPAwarded
	grant, err := s.quests.RecordGrant(ctx, m, quest, database.GrantCompleted, signature, &xp)
	if errors.Is(err, quests.ErrDuplicateGrant) {
		return Submission{Outcome: fail(ReasonAlreadySubmitted)}, nil
	}
	if err != nil {
		return Submission{}, fmt.Errorf("record grant: %w", err)
	}

	res := Submission{Outcome: out, Grant: grant}
	if s.cache != nil && s.dlq != nil && s.Rand() < spotCheckPercent {
		entry := quests.DLQEntry{
			Reason:      "spot_check",
			TxSignature: signature,
			TelegramID:  telegramID,
			Wallet:      *m.Wallet,
		}
		if err := s.dlq.Push(ctx, entry); err != nil {
			slog.Warn("failed to enqueue spot check", "signature", signature, "err", err)
		} else {
			res.SpotCheck = true
		}
	}
	return res, nil
}
