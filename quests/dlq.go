package quests

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"splguard/cachestore"
)

const (
	DLQKey    = "zealy:dlq"
	dlqMaxLen = 100
)

// DLQEntry: запись очереди ручной проверки
type DLQEntry struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	TxSignature string    `json:"tx_signature,omitempty"`
	TelegramID  int64     `json:"telegram_id,omitempty"`
	Wallet      string    `json:"wallet,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type DLQSnapshot struct {
	Size    int64
	Entries []DLQEntry
}

// DLQ: ограниченный список в кэше; старые записи вытесняются
type DLQ struct {
	cache cachestore.Store
	Now   func() time.Time
}

func NewDLQ(cache cachestore.Store) *DLQ {
	return &DLQ{cache: cache, Now: time.Now}
}

func (q *DLQ) Push(ctx context.Context, e DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.Now().UTC()
	}
	if q.cache == nil {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = q.cache.LPushTrim(ctx, DLQKey, string(raw), dlqMaxLen)
	return err
}

// Snapshot возвращает размер и первые limit записей (новые сначала)
func (q *DLQ) Snapshot(ctx context.Context, limit int) (DLQSnapshot, error) {
	if q.cache == nil {
		return DLQSnapshot{}, nil
	}
	size, err := q.cache.LLen(ctx, DLQKey)
	if err != nil {
		return DLQSnapshot{}, err
	}
	raw, err := q.cache.LRange(ctx, DLQKey, int64(limit))
	if err != nil {
		return DLQSnapshot{}, err
	}
	out := DLQSnapshot{Size: size}
	for _, item := range raw {
		var e DLQEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			slog.Debug("skipping malformed dlq entry", "err", err)
			continue
		}
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}
