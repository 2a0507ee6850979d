package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Violations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_violations",
	Help: "Number of detected moderation violations",
}, []string{"kind"})

var AdKeywordScore = promauto.NewCounter(prometheus.CounterOpts{
	Name: "splguard_ad_keyword_score",
	Help: "Sum of ad keyword scores over flagged messages",
})

var ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_moderation_actions",
	Help: "Number of strike decisions by resulting action",
}, []string{"action"})

var DeletedMessages = promauto.NewCounter(prometheus.CounterOpts{
	Name: "splguard_deleted_messages",
	Help: "Number of offending messages deleted",
})

var PlatformErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_platform_errors",
	Help: "Number of failed chat platform calls",
}, []string{"op"})

var Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_presale_verifications",
	Help: "Presale transaction verifications by result",
}, []string{"reason"})

var QuestEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_quest_events",
	Help: "Quest platform events by name and result",
}, []string{"event", "result"})

var AffiliateJoins = promauto.NewCounter(prometheus.CounterOpts{
	Name: "splguard_affiliate_joins",
	Help: "Number of members joined through referral links",
})

var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_rate_limited",
	Help: "Commands rejected by the per-user rate limit",
}, []string{"scope"})

var CommandUsage = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "splguard_command_usage",
	Help: "Number of bot commands handled by name",
}, []string{"command"})
