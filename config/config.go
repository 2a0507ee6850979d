package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BotToken       string
	DatabaseURL    string
	RedisURL       string
	OwnerID        int64
	AdminChannelID int64
	AdminIDs       []int64
	LogLevel       string
	MetricsAddr    string

	// Канал и чат проекта
	CommunityChatID int64

	// Presale
	PresaleAPIURL         string
	PresaleRefresh        time.Duration
	SolanaRPCURL          string
	SolanaRPCTimeout      time.Duration
	SmithiiProgramIDs     []string
	PresaleVaults         []string
	PresaleTokenMints     []string
	TDLMint               string
	PresaleMinSOLLamports int64
	PresaleMinUSDCAmount  int64

	// Zealy
	ZealyEnabled         bool
	ZealyAPIKey          string
	ZealyCommunityID     string
	ZealyBaseURL         string
	ZealyPresaleXPReward int

	// Affiliates
	AffiliatesRotateExpiryDays int
	AffiliatesMaxLinksPerUser  int
}

func Load() *Config {
	ownerID, _ := strconv.ParseInt(getEnv("OWNER_ID", "0"), 10, 64)
	adminChannel, _ := strconv.ParseInt(getEnv("ADMIN_CHANNEL_ID", "0"), 10, 64)
	chatID, _ := strconv.ParseInt(getEnv("SPLSHIELD_CHAT_ID", "0"), 10, 64)
	refresh, _ := strconv.Atoi(getEnv("PRESALE_REFRESH_SECONDS", "60"))
	rpcTimeout, _ := strconv.Atoi(getEnv("SOLANA_RPC_TIMEOUT_SECONDS", "15"))
	minSOL, _ := strconv.ParseInt(getEnv("PRESALE_MIN_SOL_LAMPORTS", "0"), 10, 64)
	minUSDC, _ := strconv.ParseInt(getEnv("PRESALE_MIN_USDC_AMOUNT", "0"), 10, 64)
	xpReward, _ := strconv.Atoi(getEnv("ZEALY_PRESALE_XP_REWARD", "0"))
	rotateDays, _ := strconv.Atoi(getEnv("AFFILIATES_ROTATE_EXPIRY_DAYS", "0"))
	maxLinks, _ := strconv.Atoi(getEnv("AFFILIATES_MAX_LINKS_PER_USER", "3"))

	if refresh <= 0 {
		refresh = 60
	}
	if rpcTimeout <= 0 {
		rpcTimeout = 15
	}

	return &Config{
		BotToken:                   getEnv("BOT_TOKEN", ""),
		DatabaseURL:                getEnv("DATABASE_URL", ""),
		RedisURL:                   getEnv("REDIS_URL", ""),
		OwnerID:                    ownerID,
		AdminChannelID:             adminChannel,
		AdminIDs:                   parseIDs(getEnv("ADMIN_IDS", "")),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		MetricsAddr:                getEnv("METRICS_ADDR", ":9090"),
		CommunityChatID:            chatID,
		PresaleAPIURL:              getEnv("PRESALE_API_URL", ""),
		PresaleRefresh:             time.Duration(refresh) * time.Second,
		SolanaRPCURL:               getEnv("SOLANA_RPC_URL", ""),
		SolanaRPCTimeout:           time.Duration(rpcTimeout) * time.Second,
		SmithiiProgramIDs:          splitList(getEnv("PRESALE_SMITHII_PROGRAM_IDS", "")),
		PresaleVaults:              splitList(getEnv("PRESALE_VAULT_ADDRESSES", "")),
		PresaleTokenMints:          splitList(getEnv("PRESALE_TOKEN_MINTS", "")),
		TDLMint:                    getEnv("TDL_MINT", ""),
		PresaleMinSOLLamports:      max(0, minSOL),
		PresaleMinUSDCAmount:       max(0, minUSDC),
		ZealyEnabled:               getEnv("ZEALY_ENABLED", "false") == "true",
		ZealyAPIKey:                getEnv("ZEALY_API_KEY", ""),
		ZealyCommunityID:           getEnv("ZEALY_COMMUNITY_ID", ""),
		ZealyBaseURL:               getEnv("ZEALY_BASE_URL", "https://api.zealy.io"),
		ZealyPresaleXPReward:       xpReward,
		AffiliatesRotateExpiryDays: rotateDays,
		AffiliatesMaxLinksPerUser:  maxLinks,
	}
}

// AuditChannel возвращает канал для аудита: ADMIN_CHANNEL_ID, иначе OWNER_ID.
func (c *Config) AuditChannel() int64 {
	if c.AdminChannelID != 0 {
		return c.AdminChannelID
	}
	return c.OwnerID
}

// IsStaff: владелец или один из ADMIN_IDS
func (c *Config) IsStaff(id int64) bool {
	if id != 0 && id == c.OwnerID {
		return true
	}
	for _, admin := range c.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("skipping invalid admin id", "value", part, "err", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
