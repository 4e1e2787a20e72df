package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleMCPConfig = `
llm:
  base_url: https://api.example.com/v1
  api_key: dummy
  model: qwen2.5
server:
  host: 127.0.0.1
  port: "9090"
chat:
  history_limit: 4
memory:
  backend: mcp
  mcp:
    type: stdio
    command: ./graphiti-mcp
    args: ["--transport", "stdio"]
    env:
      FOO: bar
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()
	return tmp.Name()
}

// TestLoad_MCPMemory verifies that Load correctly unmarshals a stdio memory server configuration.
func TestLoad_MCPMemory(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleMCPConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	require.Equal(t, "qwen2.5", cfg.LLM.Model)
	require.Equal(t, 4, cfg.Chat.HistoryLimit)
	require.True(t, cfg.Memory.Enabled())

	s := cfg.Memory.MCP
	require.Equal(t, ClientTypeStdio, s.Type)
	require.Equal(t, "./graphiti-mcp", s.Command)
	require.Equal(t, []string{"--transport", "stdio"}, s.Args)
	require.Equal(t, "bar", s.Env["foo"])
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "log:\n  level: debug\n"))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 6, cfg.Chat.HistoryLimit)
	require.Equal(t, "default", cfg.Chat.DefaultSession)
	require.Equal(t, []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
		"http://localhost:5173",
		"http://127.0.0.1:5173",
	}, cfg.Server.CORSAllowOrigins)
	require.Equal(t, DriverSQLite, cfg.History.Driver)
	require.False(t, cfg.Memory.Enabled())
	require.Equal(t, 3*time.Second, cfg.Memory.SearchTimeout)
	require.Equal(t, "af_heart", cfg.TTS.Voice)
	require.Equal(t, 24000, cfg.TTS.SampleRate)
	require.InDelta(t, 1.0, cfg.TTS.Speed, 1e-9)
	require.NotEmpty(t, cfg.LLM.SystemPrompt)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "llm:\n  model: from-file\n"))
	t.Setenv("LLM_MODEL", "from-env")
	t.Setenv("HISTORY_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.LLM.Model)
	require.Equal(t, DriverMemory, cfg.History.Driver)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir()+"/nope.yaml")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			History: HistoryConfig{Driver: DriverSQLite},
			TTS:     TTSConfig{Speed: 1, SampleRate: 24000},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.History.Driver = DriverPostgres
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.History.Driver = "mongo"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Memory.Backend = MemoryBackendPGVector
	require.Error(t, cfg.Validate())
	cfg.Memory.DSN = "postgres://localhost/mem"
	cfg.Memory.Embedding.Dimensions = 768
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.TTS.Speed = 0
	require.Error(t, cfg.Validate())
}
