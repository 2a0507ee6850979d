package quests

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"splguard/cachestore"
	"splguard/metrics"
)

// EventQueueKey: список событий квест-платформы; приёмник вебхука кладёт их LPUSH,
// бот забирает с хвоста
const EventQueueKey = "zealy:events"

const drainBatch = 50

type QueuedEvent struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Intake забирает события из очереди в кэше и передаёт их в ProcessEvent
type Intake struct {
	svc      *Service
	cache    cachestore.Store
	interval time.Duration
}

func NewIntake(svc *Service, cache cachestore.Store, interval time.Duration) *Intake {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Intake{svc: svc, cache: cache, interval: interval}
}

// Drain обрабатывает до drainBatch событий. Возвращает число обработанных.
func (in *Intake) Drain(ctx context.Context) (int, error) {
	if in.cache == nil {
		return 0, nil
	}
	handled := 0
	for range drainBatch {
		raw, err := in.cache.RPop(ctx, EventQueueKey)
		if err != nil {
			return handled, err
		}
		if raw == "" {
			break
		}
		var ev QueuedEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil || ev.Event == "" {
			slog.Warn("dropping malformed quest event", "raw", raw, "err", err)
			metrics.QuestEvents.WithLabelValues("malformed", "dropped").Inc()
			continue
		}
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		if in.svc.ProcessEvent(ctx, ev.Event, ev.Payload) {
			handled++
		}
	}
	return handled, nil
}

// Run опрашивает очередь до отмены ctx
func (in *Intake) Run(ctx context.Context) {
	if in.cache == nil {
		slog.Info("quest event intake disabled: no cache configured")
		return
	}
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		if _, err := in.Drain(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("quest event intake failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
