package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"splguard/database"
)

// fakeStore: InfractionStore и RuleSource в памяти
type fakeStore struct {
	mu      sync.Mutex
	records map[int64]*database.UserInfraction
	nextID  int

	settings *database.Settings
	rule     *database.ModerationRule
	loads    int

	failIncrement error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[int64]*database.UserInfraction)}
}

func (s *fakeStore) LoadModerationSettings(ctx context.Context) (*database.Settings, *database.ModerationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.settings, s.rule, nil
}

func (s *fakeStore) GetInfraction(ctx context.Context, settingsID int, userID int64) (*database.UserInfraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) upsert(settingsID int, userID int64) *database.UserInfraction {
	rec, ok := s.records[userID]
	if !ok {
		s.nextID++
		rec = &database.UserInfraction{ID: s.nextID, SettingsID: settingsID, TelegramUserID: userID}
		s.records[userID] = rec
	}
	return rec
}

func (s *fakeStore) IncrementStrikes(ctx context.Context, settingsID int, userID int64, username *string, at time.Time) (*database.UserInfraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIncrement != nil {
		return nil, s.failIncrement
	}
	rec := s.upsert(settingsID, userID)
	if username != nil {
		rec.Username = username
	}
	rec.StrikeCount++
	rec.UpdatedAt = at
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) ApplyStrikeOutcome(ctx context.Context, id int, muted bool, ban *database.BanEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID != id {
			continue
		}
		rec.IsMuted = muted
		if ban != nil {
			rec.BanHistory = append(rec.BanHistory, *ban)
		}
		rec.UpdatedAt = at
		return nil
	}
	return errors.New("record not found")
}

func (s *fakeStore) SetProbation(ctx context.Context, settingsID int, userID int64, username *string, now, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.upsert(settingsID, userID)
	if username != nil {
		rec.Username = username
	}
	if rec.JoinedAt == nil {
		rec.JoinedAt = &now
	}
	rec.ProbationUntil = &until
	rec.UpdatedAt = now
	return nil
}

func (s *fakeStore) record(userID int64) database.UserInfraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[userID]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// errCache отвечает ошибкой на всё
type errCache struct{}

var errCacheDown = errors.New("cache down")

func (errCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errCacheDown
}
func (errCache) Get(ctx context.Context, key string) (string, error) { return "", errCacheDown }
func (errCache) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return errCacheDown
}
func (errCache) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return false, errCacheDown
}
func (errCache) TTL(ctx context.Context, key string) (time.Duration, error) { return 0, errCacheDown }
func (errCache) Del(ctx context.Context, keys ...string) error              { return errCacheDown }
func (errCache) SAdd(ctx context.Context, key, member string) error         { return errCacheDown }
func (errCache) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, errCacheDown
}
func (errCache) LPushTrim(ctx context.Context, key, val string, maxLen int64) (int64, error) {
	return 0, errCacheDown
}
func (errCache) LRange(ctx context.Context, key string, limit int64) ([]string, error) {
	return nil, errCacheDown
}
func (errCache) LLen(ctx context.Context, key string) (int64, error) { return 0, errCacheDown }
func (errCache) RPop(ctx context.Context, key string) (string, error)  { return "", errCacheDown }

func testProfile() *Profile {
	return &Profile{
		SettingsID:     1,
		AllowedDomains: map[string]struct{}{"example.com": {}},
		MaxMentions:    5,
		AdKeywords:     []string{"airdrop", "free mint"},
		Thresholds:     Thresholds{Warn: 1, Mute: 3, Ban: 5},
		StrikeTTL:      6 * time.Hour,
		MuteDuration:   30 * time.Minute,
		BlockerPhrases: map[string][]string{"airdrop": {"spl shield"}},
	}
}
