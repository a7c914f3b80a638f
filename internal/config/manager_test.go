package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func noEnv(string) (string, bool) { return "", false }

func TestParseRejectsUnknownFields(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"telegram":{"token":"x"},"nope":1}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field "nope"`)
}

func TestParseRejectsTrailingData(t *testing.T) {
	for name, body := range map[string]string{
		"second document": `{"telegram":{"token":"x"}} {"telegram":{}}`,
		"empty object":    `{"telegram":{"token":"x"}} {}`,
		"scalar":          `{"telegram":{"token":"x"}} 1`,
	} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "config.json")
			writeFile(t, p, body)
			m := NewConfigManager(p)
			m.SetEnvLookup(noEnv)
			_, err := m.Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "trailing data")
		})
	}
}

func TestParseAllowsTrailingWhitespace(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, "{\"telegram\":{\"token\":\"x\"}}\n\n  \t\n")
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Telegram.Token)
}

func TestParseYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, p, `
telegram:
  token: abc
  owner_user_ids: [1, 2]
monitor:
  group_interval: 2m
  individual:
    ingame: 1m
    online: 5m
    offline: 15m
storage:
  driver: memory
`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "5m", cfg.Monitor.Individual.Online)
	assert.Same(t, cfg, m.Get(), "Load commits")
}

func TestEnvOverridesSecrets(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"telegram":{"token":"file"},"llm":{"api_key":"file"}}`)
	env := map[string]string{
		EnvTelegramToken:    "env-token",
		EnvSteamLoginSecure: "cookie",
		EnvLLMAPIKey:        "  ",
	}
	m := NewConfigManager(p)
	m.SetEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "cookie", cfg.Steam.LoginSecureCookie)
	assert.Equal(t, "file", cfg.LLM.APIKey, "blank env values do not clobber the file")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"bad duration", Config{Monitor: MonitorConfig{GroupInterval: "soon"}}, true},
		{"negative tier", Config{Monitor: MonitorConfig{Individual: IndividualConfig{InGame: "-1s"}}}, true},
		{"negative reresolve disables", Config{Monitor: MonitorConfig{ReresolveInterval: "-1s"}}, false},
		{"reresolve off", Config{Monitor: MonitorConfig{ReresolveInterval: "off"}}, false},
		{"bad reresolve", Config{Monitor: MonitorConfig{ReresolveInterval: "weekly"}}, true},
		{"bad timezone", Config{Monitor: MonitorConfig{Timezone: "Mars/Olympus"}}, true},
		{"bad admin target", Config{Telegram: TelegramConfig{AdminTargets: []string{"abc"}}}, true},
		{"admin target with thread", Config{Telegram: TelegramConfig{AdminTargets: []string{"-100123:7"}}}, false},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "redis"}}, true},
		{"ops public without token", Config{Ops: OpsConfig{Enabled: true, Addr: "0.0.0.0:6060"}}, true},
		{"ops public with token", Config{Ops: OpsConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"}}, false},
		{"ops loopback", Config{Ops: OpsConfig{Enabled: true}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	assert.False(t, m.reload(ctx), "unchanged file should not publish")

	writeFile(t, p, `{"logging":{"level":"debug"}}`)
	require.True(t, m.reload(ctx), "changed file should publish")
	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	writeFile(t, p, `{"monitor":{"group_interval":"never"}}`)
	assert.False(t, m.reload(ctx), "invalid config should be rejected")
	assert.Equal(t, "debug", m.Get().Logging.Level, "rejected config keeps the committed one")
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Monitor: MonitorConfig{GroupInterval: "2m"}, Storage: StorageConfig{Driver: "file"}}
	newCfg := &Config{Monitor: MonitorConfig{GroupInterval: "3m"}, Storage: StorageConfig{Driver: "sqlite"}, Ops: OpsConfig{Token: "s3cret"}}

	ch := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"monitor", "ops", "storage"}, ch.Sections)
	assert.Equal(t, []string{"storage"}, ch.RestartRequired)
	assert.True(t, SummarizeConfigChange(newCfg, newCfg).Empty())
}
