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

const jsonCfg = `{
  "telegram": {"token": "T", "poll_timeout": "5s"},
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "sqlite", "path": "./data/bot.db", "table": "messages"},
  "scheduler": {"timezone": "UTC", "restore_spread": true},
  "commands": {"feedback": "verbose"}
}`

const yamlCfg = `
telegram:
  token: T
  poll_timeout: 5s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/bot.db
  table: messages
scheduler:
  timezone: UTC
  restore_spread: true
commands:
  feedback: verbose
`

const tomlCfg = `
[telegram]
token = "T"
poll_timeout = "5s"

[logging]
level = "debug"
console = true

[storage]
driver = "sqlite"
path = "./data/bot.db"
table = "messages"

[scheduler]
timezone = "UTC"
restore_spread = true

[commands]
feedback = "verbose"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeFormatsAgree(t *testing.T) {
	want, err := Decode("c.json", []byte(jsonCfg))
	require.NoError(t, err)
	assert.Equal(t, "T", want.Telegram.Token)
	assert.True(t, want.Scheduler.RestoreSpread)

	for name, body := range map[string]string{"c.yaml": yamlCfg, "c.yml": yamlCfg, "c.toml": tomlCfg} {
		got, err := Decode(name, []byte(body))
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram": {"tokn": "x"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokn")

	_, err = Decode("c.yaml", []byte("unknown_section:\n  a: 1\n"))
	require.Error(t, err)

	_, err = Decode("c.toml", []byte("[storage]\nbogus = 1\n"))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "file"
	cfg.Storage.Table = "messages"

	env := map[string]string{EnvTelegramToken: " env-token ", EnvTableName: "reminders"}
	ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "reminders", cfg.Storage.Table)

	// Blank values do not clobber the file.
	ApplyEnv(cfg, func(string) (string, bool) { return "  ", true })
	assert.Equal(t, "env-token", cfg.Telegram.Token)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", EnvTableName+"=from_dotenv\n")
	t.Setenv(EnvTableName, "")
	require.NoError(t, os.Unsetenv(EnvTableName))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	assert.Equal(t, "from_dotenv", os.Getenv(EnvTableName))
}

func TestManagerLoadAppliesEnvAndValidates(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"telegram": {}, "storage": {"driver": "memory"}}`)
	t.Setenv(EnvTelegramToken, "")

	m := NewManager(p)
	_, err := m.Load()
	require.Error(t, err, "token is required")
	assert.Nil(t, m.Get())

	t.Setenv(EnvTelegramToken, "secret")
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Telegram.Token)
	assert.Same(t, cfg, m.Get())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Telegram.Token = "T"
		c.Storage.Driver = "memory"
		return c
	}
	require.NoError(t, Validate(base()))

	cases := map[string]func(c *Config){
		"feedback":      func(c *Config) { c.Commands.Feedback = "loud" },
		"driver":        func(c *Config) { c.Storage.Driver = "postgres" },
		"sqlite path":   func(c *Config) { c.Storage.Driver = "sqlite" },
		"timezone":      func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"duration":      func(c *Config) { c.Telegram.PollTimeout = "soon" },
		"negative rate": func(c *Config) { c.Delivery.RatePerSec = -1 },
		"log chat":      func(c *Config) { c.Logging.Chat.Enabled = true },
		"level":         func(c *Config) { c.Logging.Level = "loud" },
		"help file":     func(c *Config) { c.Help.File = "/nonexistent/help.txt" },
	}
	for name, mut := range cases {
		c := base()
		mut(c)
		assert.Error(t, Validate(c), name)
	}
}

func TestHelpTextPrefersFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Help: HelpConfig{Text: "inline"}}
	got, err := cfg.HelpText()
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	cfg.Help.File = writeFile(t, dir, "help.txt", "from file\n")
	got, err = cfg.HelpText()
	require.NoError(t, err)
	assert.Equal(t, "from file\n", got)
}

func TestDurationHelpers(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationField("x", " 250ms ")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"telegram": {"token": "T"}, "storage": {"driver": "memory"}}`)

	m := NewManager(p)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is never published.
	writeFile(t, dir, "config.json", `{"telegram": {"token": "T"}, "storage": {"driver": "memory"}, "commands": {"feedback": "loud"}}`)
	select {
	case cfg := <-ch:
		t.Fatalf("unexpected publish: %+v", cfg.Commands)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "config.json", `{"telegram": {"token": "T"}, "storage": {"driver": "memory"}, "commands": {"feedback": "verbose"}}`)
	select {
	case cfg := <-ch:
		assert.Equal(t, "verbose", cfg.Commands.Feedback)
		assert.Same(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{}
	oldCfg.Telegram.Token = "a"
	newCfg := *oldCfg
	newCfg.Commands.Feedback = "verbose"
	newCfg.Logging.Level = "debug"
	newCfg.Storage.Table = "other"

	changed, attrs, restart := SummarizeChange(oldCfg, &newCfg)
	assert.Equal(t, []string{"commands", "logging", "storage"}, changed)
	assert.Equal(t, []string{"storage"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeChange(oldCfg, oldCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}
