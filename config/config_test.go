package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("ADMIN_IDS", "10, 20,bogus,,30")
	t.Setenv("PRESALE_TOKEN_MINTS", "MintA, MintB")
	t.Setenv("PRESALE_MIN_SOL_LAMPORTS", "-5")

	cfg := Load()
	assert.Equal("token", cfg.BotToken)
	assert.Equal([]int64{10, 20, 30}, cfg.AdminIDs)
	assert.Equal([]string{"MintA", "MintB"}, cfg.PresaleTokenMints)
	assert.Equal(int64(0), cfg.PresaleMinSOLLamports)
	assert.Equal(60*time.Second, cfg.PresaleRefresh)
	assert.Equal(15*time.Second, cfg.SolanaRPCTimeout)
}

func TestStaffAndAuditChannel(t *testing.T) {
	assert := assert.New(t)

	cfg := &Config{OwnerID: 1, AdminIDs: []int64{2, 3}}
	assert.True(cfg.IsStaff(1))
	assert.True(cfg.IsStaff(3))
	assert.False(cfg.IsStaff(4))
	assert.False((&Config{}).IsStaff(0))

	assert.Equal(int64(1), cfg.AuditChannel())
	cfg.AdminChannelID = -100
	assert.Equal(int64(-100), cfg.AuditChannel())
}
