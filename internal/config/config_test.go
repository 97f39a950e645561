package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCampaignCaps(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want map[string]int
	}{
		{name: "empty", in: "", want: map[string]int{}},
		{name: "single", in: "camp-a=5", want: map[string]int{"camp-a": 5}},
		{name: "multiple with spaces", in: "camp-a=5, camp-b=20", want: map[string]int{"camp-a": 5, "camp-b": 20}},
		{name: "malformed entries skipped", in: "camp-a=5,broken,camp-b=x,camp-c=0", want: map[string]int{"camp-a": 5}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, parseCampaignCaps(c.in))
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.PollCeiling)
	assert.Equal(t, 30*time.Second, cfg.TerminalLinger)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.RedisEnabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BREAKER_COOLDOWN", "45s")
	t.Setenv("POLL_CEILING", "90") // bare integers are seconds
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("CAMPAIGN_CAPS", "camp-a=3")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, 45*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 90*time.Second, cfg.PollCeiling)
	assert.Equal(t, 7, cfg.BreakerFailureThreshold)
	assert.Equal(t, map[string]int{"camp-a": 3}, cfg.CampaignCaps)
}
