package moderation

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"splguard/database"
)

// Значения по умолчанию, если правило их не задаёт
const (
	DefaultWarn            = 1
	DefaultMute            = 3
	DefaultBan             = 5
	DefaultStrikeTTL       = 6 * time.Hour
	DefaultMuteDuration    = 30 * time.Minute
	DefaultMaxMentions     = 5
	DefaultProfileCacheTTL = 60 * time.Second
)

type Thresholds struct {
	Warn int
	Mute int
	Ban  int
}

// Profile: неизменяемый снимок правил модерации. Не модифицировать после Build.
type Profile struct {
	SettingsID        int
	AllowedDomains    map[string]struct{}
	MaxMentions       int
	AdKeywords        []string
	Thresholds        Thresholds
	StrikeTTL         time.Duration
	MuteDuration      time.Duration
	ProbationDuration time.Duration
	AdminChannelID    *int64

	// ключевое слово не считается, если в тексте есть одна из фраз
	BlockerPhrases map[string][]string
	// ключевые слова, которые никогда не считаются рекламой
	WhitelistedKeywords map[string]struct{}
}

// RuleSource: откуда берутся settings и правило модерации (database.DB)
type RuleSource interface {
	LoadModerationSettings(ctx context.Context) (*database.Settings, *database.ModerationRule, error)
}

// ProfileLoader кэширует профиль на короткое время. Кэш принадлежит загрузчику,
// тесты и разные окружения создают свой.
type ProfileLoader struct {
	src          RuleSource
	adminChannel int64
	cache        *expirable.LRU[int, *Profile]
	mu           sync.Mutex
}

const profileKey = 0

func NewProfileLoader(src RuleSource, adminChannel int64, ttl time.Duration) *ProfileLoader {
	if ttl <= 0 {
		ttl = DefaultProfileCacheTTL
	}
	return &ProfileLoader{
		src:          src,
		adminChannel: adminChannel,
		cache:        expirable.NewLRU[int, *Profile](1, nil, ttl),
	}
}

// Load возвращает профиль из кэша или собирает заново. nil без ошибки, если настройки не заданы.
func (l *ProfileLoader) Load(ctx context.Context) (*Profile, error) {
	if p, ok := l.cache.Get(profileKey); ok {
		return p, nil
	}

	// сборка идемпотентна, mutex лишь убирает лишние запросы в БД
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.cache.Get(profileKey); ok {
		return p, nil
	}

	settings, rule, err := l.src.LoadModerationSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, nil
	}
	p := BuildProfile(settings, rule, l.adminChannel)
	l.cache.Add(profileKey, p)
	return p, nil
}

// Purge сбрасывает кэш после изменения правил
func (l *ProfileLoader) Purge() {
	l.cache.Purge()
}

func BuildProfile(settings *database.Settings, rule *database.ModerationRule, adminChannel int64) *Profile {
	p := &Profile{
		SettingsID:          settings.ID,
		AllowedDomains:      make(map[string]struct{}),
		MaxMentions:         DefaultMaxMentions,
		Thresholds:          Thresholds{Warn: DefaultWarn, Mute: DefaultMute, Ban: DefaultBan},
		StrikeTTL:           DefaultStrikeTTL,
		MuteDuration:        DefaultMuteDuration,
		BlockerPhrases:      make(map[string][]string),
		WhitelistedKeywords: make(map[string]struct{}),
	}
	if adminChannel != 0 {
		ch := adminChannel
		p.AdminChannelID = &ch
	}

	if rule != nil {
		p.MaxMentions = rule.MaxMentions
		p.ProbationDuration = time.Duration(rule.NewUserProbationDuration) * time.Second
		for _, d := range rule.AllowedDomains {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				p.AllowedDomains[d] = struct{}{}
			}
		}
		for _, kw := range rule.AdKeywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				p.AdKeywords = append(p.AdKeywords, kw)
			}
		}
		applyThresholds(p, rule.RepeatedOffenseThresholds)
	}

	derived := []*string{settings.Website, settings.Docs, settings.ExplorerURL}
	for _, link := range settings.SocialLinks {
		derived = append(derived, &link)
	}
	for _, link := range derived {
		if link == nil {
			continue
		}
		if host := hostOf(*link); host != "" {
			p.AllowedDomains[host] = struct{}{}
		}
	}

	// название проекта рядом с "airdrop"/"promo" означает наши же анонсы
	if name := strings.ToLower(strings.TrimSpace(settings.ProjectName)); name != "" {
		for _, kw := range []string{"airdrop", "promo"} {
			p.BlockerPhrases[kw] = append(p.BlockerPhrases[kw], name)
		}
	}
	return p
}

func applyThresholds(p *Profile, raw map[string]int) {
	for k, v := range raw {
		if v <= 0 {
			continue
		}
		switch k {
		case "warn":
			p.Thresholds.Warn = v
		case "mute":
			p.Thresholds.Mute = v
		case "ban":
			p.Thresholds.Ban = v
		case "ttl_seconds":
			p.StrikeTTL = time.Duration(v) * time.Second
		case "mute_seconds":
			p.MuteDuration = time.Duration(v) * time.Second
		}
	}
}

// hostOf: хост ссылки в нижнем регистре, схема не обязательна
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
