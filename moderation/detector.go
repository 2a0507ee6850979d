package moderation

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type ViolationKind string

const (
	ViolationLink           ViolationKind = "link"
	ViolationProbationLink  ViolationKind = "probation_link"
	ViolationProbationMedia ViolationKind = "probation_media"
	ViolationMentions       ViolationKind = "mentions"
	ViolationAdvertising    ViolationKind = "advertising"
)

type Violation struct {
	Kind   ViolationKind
	Reason string
	// для рекламы: набранный балл
	Score int
}

// Message: то, что детектор знает о сообщении
type Message struct {
	// текст и подпись, через пробел
	Text     string
	Domains  []string
	Mentions int
	HasMedia bool
}

var (
	// ссылки с http(s):// или www.
	linkPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)[\w\-._~:/?#\[\]@!$&'()*+,;=%]+`)

	// приглашения в чужие чаты
	invitePatterns = []string{
		"t.me/joinchat",
		"t.me/+",
		"telegram.me/joinchat",
	}
)

// Evaluate проверяет сообщение по профилю. Первое совпадение выигрывает:
// ссылки → медиа на испытательном сроке → упоминания → реклама.
func Evaluate(msg Message, p *Profile, probation bool) *Violation {
	// 1. Ссылки
	if len(msg.Domains) > 0 {
		var unauthorized []string
		for _, d := range msg.Domains {
			if !DomainInAllowlist(d, p.AllowedDomains) {
				unauthorized = append(unauthorized, d)
			}
		}
		if len(unauthorized) > 0 {
			return &Violation{
				Kind:   ViolationLink,
				Reason: "Links from unapproved domains: " + strings.Join(unauthorized, ", "),
			}
		}
		if probation {
			return &Violation{
				Kind:   ViolationProbationLink,
				Reason: "Links are restricted during probation.",
			}
		}
	}

	// 2. Медиа
	if msg.HasMedia && probation {
		return &Violation{
			Kind:   ViolationProbationMedia,
			Reason: "Media attachments are blocked during probation.",
		}
	}

	// 3. Упоминания (при 0 проверка выключена)
	if p.MaxMentions > 0 && msg.Mentions > p.MaxMentions {
		return &Violation{
			Kind:   ViolationMentions,
			Reason: fmt.Sprintf("Message contains too many mentions (%d/%d).", msg.Mentions, p.MaxMentions),
		}
	}

	// 4. Реклама
	if score := AdScore(msg.Text, p); score > 0 {
		return &Violation{
			Kind:   ViolationAdvertising,
			Reason: "Detected promotional or spam keywords.",
			Score:  score,
		}
	}
	return nil
}

// AdScore: +1 за каждое рекламное слово профиля, +2 за каждый шаблон инвайта
func AdScore(text string, p *Profile) int {
	normalized := normalize(text)
	score := 0
	for _, kw := range p.AdKeywords {
		key := normalize(kw)
		if key == "" || !strings.Contains(normalized, key) {
			continue
		}
		if _, ok := p.WhitelistedKeywords[key]; ok {
			continue
		}
		if hasAny(normalized, p.BlockerPhrases[key]) {
			continue
		}
		score++
	}
	for _, pattern := range invitePatterns {
		if strings.Contains(normalized, pattern) {
			score += 2
		}
	}
	return score
}

func hasAny(text string, phrases []string) bool {
	for _, ph := range phrases {
		if ph != "" && strings.Contains(text, normalize(ph)) {
			return true
		}
	}
	return false
}

// normalize: нижний регистр без диакритики ("Áirdrop" → "airdrop")
func normalize(text string) string {
	// transform.Chain хранит состояние, поэтому собирается на каждый вызов
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	out, _, err := transform.String(normFunc, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return lower
	}
	return out
}

// DomainInAllowlist: точное совпадение, родительский домен по границе точки,
// либо запись "*.example.com" (только поддомены, не сам example.com).
func DomainInAllowlist(domain string, allow map[string]struct{}) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return false
	}
	if _, ok := allow[domain]; ok {
		return true
	}

	labels := strings.Split(domain, ".")
	for i := 1; i < len(labels); i++ {
		if _, ok := allow[strings.Join(labels[i:], ".")]; ok {
			return true
		}
	}

	for allowed := range allow {
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(domain, allowed[1:]) {
			return true
		}
	}
	return false
}

// ExtractDomains собирает хосты из текста и из URL-сущностей сообщения.
// Результат отсортирован и без повторов.
func ExtractDomains(text string, entityURLs ...string) []string {
	seen := make(map[string]struct{})
	for _, link := range linkPattern.FindAllString(text, -1) {
		if host := hostOf(link); host != "" {
			seen[host] = struct{}{}
		}
	}
	for _, link := range entityURLs {
		if host := hostOf(link); host != "" {
			seen[host] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
