package database

import "time"

type PresaleStatus string

const (
	PresaleUpcoming PresaleStatus = "upcoming"
	PresaleActive   PresaleStatus = "active"
	PresaleEnded    PresaleStatus = "ended"
)

type GrantStatus string

const (
	GrantPending   GrantStatus = "pending"
	GrantCompleted GrantStatus = "completed"
	GrantFailed    GrantStatus = "failed"
)

type Settings struct {
	ID                int
	ProjectName       string
	TokenTicker       string
	ContractAddresses []string
	ExplorerURL       *string
	Website           *string
	Docs              *string
	SocialLinks       map[string]string
	Logo              *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type TeamMember struct {
	ID           int
	SettingsID   int
	Name         string
	Role         string
	Contact      *string
	DisplayOrder int
}

type ModerationRule struct {
	ID                        int
	SettingsID                int
	LinkPostingPolicy         string
	AllowedDomains            []string
	AdKeywords                []string
	MaxMentions               int
	NewUserProbationDuration  int
	RepeatedOffenseThresholds map[string]int
	UpdatedAt                 time.Time
}

type BanEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// UserInfraction: нарушения пользователя в рамках settings
type UserInfraction struct {
	ID             int
	SettingsID     int
	TelegramUserID int64
	Username       *string
	IsAdmin        bool
	IsTrusted      bool
	IsMuted        bool
	MutedUntil     *time.Time
	BanHistory     []BanEntry
	StrikeCount    int
	Notes          *string
	JoinedAt       *time.Time
	ProbationUntil *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Presale struct {
	ID          int
	SettingsID  int
	Status      PresaleStatus
	Platform    *string
	Links       map[string]string
	Hardcap     *string
	Softcap     *string
	RaisedSoFar *string
	StartTime   *time.Time
	EndTime     *time.Time
	FAQs        []FAQ
	UpdatedAt   time.Time
}

type ZealyMember struct {
	ID          int
	TelegramID  int64
	Wallet      *string
	XP          int
	Level       int
	Tier        *string
	ZealyUserID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ZealyQuest struct {
	ID           int
	Slug         string
	ZealyQuestID *string
	XPValue      int
	UpdatedAt    time.Time
}

type ZealyGrant struct {
	ID        int
	MemberID  int
	QuestID   int
	QuestSlug string
	Status    GrantStatus
	TxRef     *string
	XPAwarded *int
	CreatedAt time.Time
}

type InviteLink struct {
	ID                 int
	OwnerTgID          int64
	ChatID             int64
	InviteLink         string
	Name               *string
	CreatesJoinRequest bool
	CreatedAt          time.Time
}

// InviterStat: строка топа пригласивших
type InviterStat struct {
	OwnerID int64
	Joins   int
}
