package config

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wallet(seedByte byte) string {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	return base58.Encode(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
}

func validConfig() Config {
	cfg := Defaults()
	cfg.PumpPortal.APIKey = "key"
	cfg.Copy.Originators = []string{wallet(1)}
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	d := Defaults()
	assert.Equal(t, 0.005, d.Copy.Ratio)
	assert.Equal(t, 2*time.Minute, d.Copy.Cooldown.Duration)
	assert.Equal(t, 5*time.Minute, d.AutoSell.SellInterval.Duration)
	assert.Equal(t, 2*time.Minute, d.AutoSell.InitialDelay.Duration)
	assert.Equal(t, 0.2, d.AutoSell.SellFraction)
	assert.Equal(t, 3, d.Retry.MaxRetries)
	assert.Equal(t, 1.5, d.Retry.BackoffFactor)
	assert.Equal(t, 5*time.Second, d.PumpPortal.ReconnectDelay.Duration)
}

func TestValidate_FailsFast(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "originator")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "yolo"
	cfg.Copy.Ratio = -1
	cfg.Copy.SellPolicy = "hold"
	cfg.Retry.MaxRetries = 0
	cfg.AutoSell.SellFraction = 1.5
	cfg.Copy.Originators = []string{"not-base58-0OIl"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mode", "ratio", "sell_policy", "max_retries", "sell_fraction", "originator"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_MonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Copy.TokenKeys = []string{wallet(2)}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LiquidatePercentage(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.SellPolicy = "liquidate"
	cfg.Copy.FeedSellPercentage = "50%"
	require.NoError(t, cfg.Validate())

	cfg.Copy.FeedSellPercentage = "150%"
	assert.Error(t, cfg.Validate())
}

func TestValidate_ArchiveNeedsBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive")

	cfg.Postgres.Enabled = true
	cfg.S3.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copybot.toml")
	body := `
mode = "copy"

[pumpportal]
api_key = "from-file"

[copy]
originators = ["` + wallet(3) + `"]
ratio = 0.01
cooldown = "90s"

[autosell]
sell_fraction = 0.25
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("COPYBOT_PUMPPORTAL_API_KEY", "from-env")
	t.Setenv("COPYBOT_RETRY_MAX_RETRIES", "5")
	t.Setenv("COPYBOT_AUTOSELL_INITIAL_DELAY", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.PumpPortal.APIKey)
	assert.Equal(t, 0.01, cfg.Copy.Ratio)
	assert.Equal(t, 90*time.Second, cfg.Copy.Cooldown.Duration)
	assert.Equal(t, 0.25, cfg.AutoSell.SellFraction)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Minute, cfg.AutoSell.InitialDelay.Duration)
	// Untouched values keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.AutoSell.SellInterval.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("COPYBOT_COPY_ORIGINATORS", wallet(4)+", "+wallet(5))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Copy.Originators, 2)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.PumpPortal.KeyPassword = "pw"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.PumpPortal.APIKey)
	assert.Equal(t, "***", out.PumpPortal.KeyPassword)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "key", cfg.PumpPortal.APIKey)

	out.Copy.Originators[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Copy.Originators[0])
}
