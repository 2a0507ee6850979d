package quests

import "strings"

const (
	TierMember = "member"
	TierWL     = "wl"
	TierAlpha  = "alpha"
	TierElite  = "elite"
)

const xpPerLevel = 250

// порядок важен: от старшего уровня к младшему
var tierRules = []struct {
	name string
	xp   int
}{
	{TierElite, 3000},
	{TierAlpha, 1500},
	{TierWL, 500},
	{TierMember, 0},
}

var tierLabels = map[string]string{
	TierMember: "Member",
	TierWL:     "Whitelist",
	TierAlpha:  "Alpha",
	TierElite:  "Elite",
}

var tierAliases = map[string]string{
	"whitelist": TierWL,
}

var tierPrivileges = map[string][]string{
	TierMember: {"Access public commands", "Participate in community chat"},
	TierWL:     {"Priority support", "Submit presale transactions"},
	TierAlpha:  {"Beta features access", "Vote on roadmap items"},
	TierElite:  {"Direct line to core team", "Early access to partnerships"},
}

func normalizeTier(tier *string) string {
	if tier == nil || *tier == "" {
		return TierMember
	}
	key := strings.ToLower(*tier)
	if alias, ok := tierAliases[key]; ok {
		return alias
	}
	return key
}

func DetermineTier(xp int) string {
	for _, r := range tierRules {
		if xp >= r.xp {
			return r.name
		}
	}
	return TierMember
}

// TierRank: member = 0, elite = 3; неизвестный уровень = 0
func TierRank(tier *string) int {
	key := normalizeTier(tier)
	for i, r := range tierRules {
		if r.name == key {
			return len(tierRules) - 1 - i
		}
	}
	return 0
}

func TierLabel(tier *string) string {
	key := normalizeTier(tier)
	if label, ok := tierLabels[key]; ok {
		return label
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

func TierPrivileges(tier *string) []string {
	if p, ok := tierPrivileges[normalizeTier(tier)]; ok {
		return p
	}
	return tierPrivileges[TierMember]
}

func CalculateLevel(xp int) int {
	return max(1, xp/xpPerLevel+1)
}
