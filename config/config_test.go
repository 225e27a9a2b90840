package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseInt(t *testing.T) {
	v, err := parseInt("", 8)
	assert.NoError(t, err)
	assert.Equal(t, 8, v)

	v, err = parseInt("16", 8)
	assert.NoError(t, err)
	assert.Equal(t, 16, v)

	v, err = parseInt("abc", 8)
	assert.Error(t, err)
	assert.Equal(t, 8, v)

	v, err = parseInt("0", 8)
	assert.Error(t, err)
	assert.Equal(t, 8, v)
}

func TestParseIntInRange(t *testing.T) {
	v, err := parseIntInRange("", 24, 1, 720)
	assert.NoError(t, err)
	assert.Equal(t, 24, v)

	v, err = parseIntInRange("720", 24, 1, 720)
	assert.NoError(t, err)
	assert.Equal(t, 720, v)

	v, err = parseIntInRange("721", 24, 1, 720)
	assert.ErrorContains(t, err, "between 1 and 720")
	assert.Equal(t, 24, v)

	v, err = parseIntInRange("0", 24, 1, 720)
	assert.Error(t, err)
	assert.Equal(t, 24, v)
}

func TestLoadConfig_AlertHoursOutOfRangeFallsBack(t *testing.T) {
	for key, value := range map[string]string{
		"POSTGRES_URL":            "postgres://localhost/alerts",
		"CHANGEDETECTION_URL":     "http://cd.local",
		"CHANGEDETECTION_API_KEY": "cd-key",
		"SMTP_HOST":               "smtp.local",
		"SMTP_FROM":               "alerts@example.com",
		"API_KEY":                 "k",
		"ALERT_HOURS":             "100000",
		"TRUST_PROXY":             "true",
	} {
		t.Setenv(key, value)
	}

	LoadConfig()

	assert.Equal(t, 24, Config.AlertHours)
	assert.True(t, Config.TrustProxy)
}

func TestParseBool(t *testing.T) {
	v, err := parseBool("", true)
	assert.NoError(t, err)
	assert.True(t, v)

	v, err = parseBool("0", true)
	assert.NoError(t, err)
	assert.False(t, v)

	v, err = parseBool("maybe", false)
	assert.Error(t, err)
	assert.False(t, v)
}

func TestParseDuration(t *testing.T) {
	v, err := parseDuration("", 30*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 30*time.Second, v)

	v, err = parseDuration("45", 30*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 45*time.Second, v)

	v, err = parseDuration("2m", 30*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Minute, v)

	v, err = parseDuration("-5s", 30*time.Second)
	assert.Error(t, err)
	assert.Equal(t, 30*time.Second, v)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := parseLogLevel("DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = parseLogLevel("LOUD")
	assert.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	assert.True(t, AppConfig{AppEnv: EnvProduction}.IsProduction())
	assert.False(t, AppConfig{AppEnv: EnvDevelopment}.IsProduction())
	assert.False(t, AppConfig{}.IsProduction())
}

func TestKeycloakEnabled(t *testing.T) {
	assert.False(t, AppConfig{}.KeycloakEnabled())
	assert.False(t, AppConfig{KeycloakURL: "http://kc"}.KeycloakEnabled())
	assert.True(t, AppConfig{KeycloakURL: "http://kc", KeycloakRealm: "alerts"}.KeycloakEnabled())
}
