package presale

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math/big"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"splguard/cachestore"
	"splguard/database"
	"splguard/httpclient"
	"splguard/messages"
)

const (
	SummaryCacheKey = "presale:summary"
	WatchersKey     = "presale:watchers"
	pinnedKeyPrefix = "presale:pinned:"
)

type Summary struct {
	ProjectName string            `json:"project_name"`
	Status      string            `json:"status"`
	Platform    *string           `json:"platform"`
	Links       map[string]string `json:"links"`
	Hardcap     *string           `json:"hardcap"`
	Softcap     *string           `json:"softcap"`
	RaisedSoFar *string           `json:"raised_so_far"`
	StartTime   *time.Time        `json:"start_time"`
	EndTime     *time.Time        `json:"end_time"`
	FAQs        []database.FAQ    `json:"faqs"`
	UpdatedAt   *time.Time        `json:"updated_at"`
}

var linkPreference = []string{"primary", "url", "link", "sale", "pinksale"}

// PrimaryLink: сначала известные ключи, затем первая непустая ссылка по алфавиту ключей
func (s *Summary) PrimaryLink() string {
	for _, k := range linkPreference {
		if v := s.Links[k]; v != "" {
			return v
		}
	}
	for _, k := range slices.Sorted(maps.Keys(s.Links)) {
		if v := s.Links[k]; v != "" {
			return v
		}
	}
	return ""
}

func (s *Summary) Text() string {
	return messages.FormatPresale(messages.PresaleView{
		Status:   s.Status,
		Platform: deref(s.Platform),
		Link:     s.PrimaryLink(),
		Hardcap:  deref(s.Hardcap),
		Softcap:  deref(s.Softcap),
		Raised:   deref(s.RaisedSoFar),
		Start:    s.StartTime,
		End:      s.EndTime,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type PresaleStore interface {
	LoadPresale(ctx context.Context) (*database.Settings, *database.Presale, error)
	SavePresale(ctx context.Context, p *database.Presale) error
}

// SummaryService собирает сводку пресейла из БД, при наличии PRESALE_API_URL
// подтягивает изменения из внешнего API и держит кэш, список чатов-подписчиков
// и закреплённые сообщения
type SummaryService struct {
	store  PresaleStore
	cache  cachestore.Store
	apiURL string
	client *http.Client
}

func NewSummaryService(store PresaleStore, cache cachestore.Store, apiURL string, client *http.Client) *SummaryService {
	if client == nil {
		client = httpclient.New(10 * time.Second)
	}
	return &SummaryService{store: store, cache: cache, apiURL: apiURL, client: client}
}

// Summary: nil без ошибки, если проект ещё не настроен
func (s *SummaryService) Summary(ctx context.Context, refreshExternal bool) (*Summary, error) {
	settings, p, err := s.store.LoadPresale(ctx)
	if err != nil {
		return nil, fmt.Errorf("load presale: %w", err)
	}
	if settings == nil || p == nil {
		return nil, nil
	}

	if refreshExternal && s.apiURL != "" {
		if payload := s.fetchExternal(ctx); payload != nil && applyExternal(p, payload) {
			if err := s.store.SavePresale(ctx, p); err != nil {
				return nil, fmt.Errorf("save presale: %w", err)
			}
			s.Invalidate(ctx)
		}
	}
	return toSummary(settings.ProjectName, p), nil
}

func toSummary(project string, p *database.Presale) *Summary {
	links := p.Links
	if links == nil {
		links = map[string]string{}
	}
	faqs := p.FAQs
	if faqs == nil {
		faqs = []database.FAQ{}
	}
	var updated *time.Time
	if !p.UpdatedAt.IsZero() {
		u := p.UpdatedAt.UTC()
		updated = &u
	}
	return &Summary{
		ProjectName: project,
		Status:      string(p.Status),
		Platform:    p.Platform,
		Links:       links,
		Hardcap:     normalizeDecimalPtr(p.Hardcap),
		Softcap:     normalizeDecimalPtr(p.Softcap),
		RaisedSoFar: normalizeDecimalPtr(p.RaisedSoFar),
		StartTime:   utcPtr(p.StartTime),
		EndTime:     utcPtr(p.EndTime),
		FAQs:        faqs,
		UpdatedAt:   updated,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *SummaryService) fetchExternal(ctx context.Context) map[string]any {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL, nil)
	if err != nil {
		slog.Warn("invalid presale api url", "err", err)
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("failed to refresh presale data from api", "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("failed to refresh presale data from api", "status", resp.StatusCode)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		slog.Warn("failed to decode presale api response", "err", err)
		return nil
	}
	return payload
}

// applyExternal переносит поля из ответа API в запись; true, если что-то изменилось
func applyExternal(p *database.Presale, payload map[string]any) bool {
	changed := false

	if status, ok := payload["status"].(string); ok {
		switch st := database.PresaleStatus(strings.ToLower(status)); st {
		case database.PresaleUpcoming, database.PresaleActive, database.PresaleEnded:
			if p.Status != st {
				p.Status = st
				changed = true
			}
		}
	}

	if platform, ok := payload["platform"].(string); ok && platform != "" && deref(p.Platform) != platform {
		p.Platform = &platform
		changed = true
	}

	for _, f := range []struct {
		key string
		dst **string
	}{
		{"hardcap", &p.Hardcap},
		{"softcap", &p.Softcap},
		{"raised", &p.RaisedSoFar},
	} {
		raw, ok := payload[f.key]
		if !ok || raw == nil {
			continue
		}
		value, ok := normalizeDecimal(fmt.Sprint(raw))
		if !ok {
			slog.Debug("skipping invalid numeric presale value", "field", f.key, "value", raw)
			continue
		}
		if current, _ := normalizeDecimal(deref(*f.dst)); current != value {
			*f.dst = &value
			changed = true
		}
	}

	for _, f := range []struct {
		key string
		dst **time.Time
	}{
		{"start_time", &p.StartTime},
		{"end_time", &p.EndTime},
	} {
		raw, ok := payload[f.key].(string)
		if !ok || raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			slog.Debug("invalid presale datetime from api", "field", f.key, "value", raw)
			continue
		}
		if *f.dst == nil || !(*f.dst).Equal(t) {
			*f.dst = &t
			changed = true
		}
	}

	if raw, ok := payload["links"].(map[string]any); ok {
		links := make(map[string]string, len(raw))
		for k, v := range raw {
			if sv, ok := v.(string); ok {
				links[k] = sv
			}
		}
		if !maps.Equal(links, p.Links) {
			p.Links = links
			changed = true
		}
	}
	return changed
}

// normalizeDecimal приводит "100.50" и "1.005e2" к "100.5"
func normalizeDecimal(raw string) (string, bool) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(raw))
	if !ok {
		return "", false
	}
	if r.IsInt() {
		return r.Num().String(), true
	}
	out := strings.TrimRight(r.FloatString(18), "0")
	return strings.TrimSuffix(out, "."), true
}

func normalizeDecimalPtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	if v, ok := normalizeDecimal(*raw); ok {
		return &v
	}
	return raw
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	// без зоны считаем UTC
	return time.Parse("2006-01-02T15:04:05", raw)
}

// ============================================
// Cache: summary, watchers, pinned messages
// ============================================

func (s *SummaryService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, SummaryCacheKey); err != nil {
		slog.Warn("failed to invalidate presale summary", "err", err)
	}
}

// CacheSummary сохраняет сводку; false, если она совпадает с закэшированной
func (s *SummaryService) CacheSummary(ctx context.Context, sum *Summary) (bool, error) {
	raw, err := json.Marshal(sum)
	if err != nil {
		return false, err
	}
	if s.cache == nil {
		return true, nil
	}
	cached, err := s.cache.Get(ctx, SummaryCacheKey)
	if err != nil {
		return false, err
	}
	if cached == string(raw) {
		return false, nil
	}
	return true, s.cache.Set(ctx, SummaryCacheKey, string(raw), cachestore.NoExpiration)
}

func (s *SummaryService) CachedSummary(ctx context.Context) (*Summary, error) {
	if s.cache == nil {
		return nil, nil
	}
	raw, err := s.cache.Get(ctx, SummaryCacheKey)
	if err != nil || raw == "" {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *SummaryService) AddWatcher(ctx context.Context, chatID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.SAdd(ctx, WatchersKey, strconv.FormatInt(chatID, 10))
}

func (s *SummaryService) Watchers(ctx context.Context) ([]int64, error) {
	if s.cache == nil {
		return nil, nil
	}
	members, err := s.cache.SMembers(ctx, WatchersKey)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *SummaryService) PinnedMessage(ctx context.Context, chatID int64) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	raw, err := s.cache.Get(ctx, pinnedKeyPrefix+strconv.FormatInt(chatID, 10))
	if err != nil || raw == "" {
		return 0, err
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return id, nil
}

func (s *SummaryService) SetPinnedMessage(ctx context.Context, chatID int64, messageID int) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Set(ctx, pinnedKeyPrefix+strconv.FormatInt(chatID, 10), strconv.Itoa(messageID), cachestore.NoExpiration)
}
