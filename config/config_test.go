package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:4489", cfg.Server.Address())
	assert.Equal(t, BackendMemory, cfg.Directory.Backend)
	assert.Equal(t, 16<<20, cfg.Transport.MaxMessageSize)
}

func TestParse_OverridesOnlyDefinedKeys(t *testing.T) {
	cfg, err := Parse(`
[server]
port = 5000

[log]
level = "debug"

[transport]
connect_timeout = "3s"

[directory]
backend = "Redis"
redis_addr = "localhost:6379"
cache_ttl = "1m"

[metrics]
enabled = true
`)
	require.NoError(t, err)

	want := Default()
	want.Server.Port = 5000
	want.Log.Level = zerolog.DebugLevel
	want.Transport.ConnectTimeout = 3 * time.Second
	want.Directory.Backend = BackendRedis
	want.Directory.RedisAddr = "localhost:6379"
	want.Directory.CacheTTL = time.Minute
	want.Metrics.Enabled = true
	assert.Equal(t, want, cfg)
}

func TestParse_ExplicitZeroValues(t *testing.T) {
	cfg, err := Parse(`
[server]
host = ""
port = 0

[directory]
ttl = "0s"
`)
	require.NoError(t, err)
	assert.Equal(t, ":0", cfg.Server.Address())
	assert.Zero(t, cfg.Directory.TTL)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"bad duration":       "[transport]\nconnect_timeout = \"soon\"",
		"negative duration":  "[directory]\nttl = \"-1s\"",
		"bad level":          "[log]\nlevel = \"loud\"",
		"unknown backend":    "[directory]\nbackend = \"etcd\"",
		"redis without addr": "[directory]\nbackend = \"redis\"",
		"port out of range":  "[server]\nport = 70000",
		"unknown key":        "[server]\nhots = \"x\"",
		"not toml":           "[server",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenary.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nnode = \"edge-2\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "edge-2", cfg.Server.Node)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
