package presale

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const DefaultRefreshInterval = time.Minute

// Publisher: отправка и закрепление HTML-сводки в чате
type Publisher interface {
	SendHTML(ctx context.Context, chatID int64, text string) (int, error)
	Pin(ctx context.Context, chatID int64, messageID int) error
	Unpin(ctx context.Context, chatID int64, messageID int) error
}

// Monitor периодически обновляет сводку и, если она изменилась,
// перепубликовывает и закрепляет её во всех чатах-подписчиках
type Monitor struct {
	summaries *SummaryService
	pub       Publisher
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(summaries *SummaryService, pub Publisher, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Monitor{summaries: summaries, pub: pub, interval: interval}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			if err := m.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("presale refresh failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	slog.Info("presale monitor started", "interval", m.interval)
}

// Stop останавливает цикл и ждёт его завершения
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	slog.Info("presale monitor stopped")
}

// Refresh: одна итерация цикла
func (m *Monitor) Refresh(ctx context.Context) error {
	sum, err := m.summaries.Summary(ctx, true)
	if err != nil || sum == nil {
		return err
	}
	changed, err := m.summaries.CacheSummary(ctx, sum)
	if err != nil || !changed {
		return err
	}

	watchers, err := m.summaries.Watchers(ctx)
	if err != nil {
		return err
	}
	text := sum.Text()
	for _, chatID := range watchers {
		m.republish(ctx, chatID, text)
	}
	return nil
}

func (m *Monitor) republish(ctx context.Context, chatID int64, text string) {
	prev, err := m.summaries.PinnedMessage(ctx, chatID)
	if err != nil {
		slog.Warn("failed to read pinned presale message", "chat_id", chatID, "err", err)
	}
	if prev != 0 {
		if err := m.pub.Unpin(ctx, chatID, prev); err != nil {
			slog.Debug("failed to unpin presale message", "chat_id", chatID, "err", err)
		}
	}

	msgID, err := m.pub.SendHTML(ctx, chatID, text)
	if err != nil {
		slog.Warn("failed to publish presale summary", "chat_id", chatID, "err", err)
		return
	}
	if err := m.pub.Pin(ctx, chatID, msgID); err != nil {
		slog.Debug("failed to pin presale message", "chat_id", chatID, "err", err)
	}
	if err := m.summaries.SetPinnedMessage(ctx, chatID, msgID); err != nil {
		slog.Warn("failed to store pinned presale message", "chat_id", chatID, "err", err)
	}
}
