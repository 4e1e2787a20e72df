package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientType is the transport used to reach an MCP server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// History drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Memory backends. An empty backend disables long-term memory.
const (
	MemoryBackendMCP      = "mcp"
	MemoryBackendPGVector = "pgvector"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	LLM       LLMConfig
	Chat      ChatConfig
	History   HistoryConfig
	Memory    MemoryConfig
	TTS       TTSConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             string        `mapstructure:"port"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ChatConfig tunes prompt assembly and turn persistence.
type ChatConfig struct {
	HistoryLimit   int           `mapstructure:"history_limit"`
	DefaultSession string        `mapstructure:"default_session"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// HistoryConfig selects the message store backend.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// MemoryConfig configures the optional long-term memory backend.
type MemoryConfig struct {
	Backend       string          `mapstructure:"backend"`
	SearchTimeout time.Duration   `mapstructure:"search_timeout"`
	MaxFacts      int             `mapstructure:"max_facts"`
	GroupID       string          `mapstructure:"group_id"`
	MCP           MCPServerConfig `mapstructure:"mcp"`
	DSN           string          `mapstructure:"dsn"`
	Embedding     EmbeddingConfig `mapstructure:"embedding"`
}

// Enabled reports whether a memory backend is configured.
func (m MemoryConfig) Enabled() bool {
	return m.Backend != ""
}

// MCPServerConfig describes how to reach the memory MCP server.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// TTSConfig holds the speech synthesis backend configuration
type TTSConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Voice      string        `mapstructure:"voice"`
	Speed      float64       `mapstructure:"speed"`
	SampleRate int           `mapstructure:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

const defaultSystemPrompt = "You are a helpful assistant. Respond in markdown when useful. Be concise but complete."

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.cors_allow_origins", []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
		"http://localhost:5173",
		"http://127.0.0.1:5173",
	})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("llm.base_url", "http://127.0.0.1:8080/v1")
	v.SetDefault("llm.api_key", "local")
	v.SetDefault("llm.model", "local-model")
	v.SetDefault("llm.system_prompt", defaultSystemPrompt)
	v.SetDefault("llm.timeout", time.Duration(0))

	v.SetDefault("chat.history_limit", 6)
	v.SetDefault("chat.default_session", "default")
	v.SetDefault("chat.persist_timeout", 30*time.Second)

	v.SetDefault("history.driver", DriverSQLite)
	v.SetDefault("history.path", "chat_history.db")
	v.SetDefault("history.dsn", "")

	v.SetDefault("memory.backend", "")
	v.SetDefault("memory.search_timeout", 3*time.Second)
	v.SetDefault("memory.max_facts", 10)
	v.SetDefault("memory.group_id", "localchat")
	v.SetDefault("memory.dsn", "")
	v.SetDefault("memory.mcp.name", "graphiti")
	v.SetDefault("memory.mcp.type", string(ClientTypeSSE))
	v.SetDefault("memory.mcp.url", "")
	v.SetDefault("memory.embedding.base_url", "http://127.0.0.1:8081/v1")
	v.SetDefault("memory.embedding.api_key", "local")
	v.SetDefault("memory.embedding.model", "text-embedding-3-small")
	v.SetDefault("memory.embedding.dimensions", 1536)

	v.SetDefault("tts.base_url", "http://127.0.0.1:8880/v1")
	v.SetDefault("tts.api_key", "local")
	v.SetDefault("tts.model", "kokoro")
	v.SetDefault("tts.voice", "af_heart")
	v.SetDefault("tts.speed", 1.0)
	v.SetDefault("tts.sample_rate", 24000)
	v.SetDefault("tts.timeout", 60*time.Second)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "localchat")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH) and applies environment overrides such as LLM_BASE_URL.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the combinations Load cannot express through defaults.
func (c *Config) Validate() error {
	switch c.History.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.History.DSN == "" {
			return errors.New("config: history.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown history driver %q", c.History.Driver)
	}

	switch c.Memory.Backend {
	case "":
	case MemoryBackendMCP:
		if c.Memory.MCP.URL == "" && c.Memory.MCP.Command == "" {
			return errors.New("config: memory.mcp.url or memory.mcp.command is required")
		}
	case MemoryBackendPGVector:
		if c.Memory.DSN == "" {
			return errors.New("config: memory.dsn is required for the pgvector backend")
		}
		if c.Memory.Embedding.Dimensions <= 0 {
			return errors.New("config: memory.embedding.dimensions must be positive")
		}
	default:
		return fmt.Errorf("config: unknown memory backend %q", c.Memory.Backend)
	}

	if c.Chat.HistoryLimit < 0 {
		return errors.New("config: chat.history_limit must not be negative")
	}
	if c.TTS.Speed <= 0 {
		return errors.New("config: tts.speed must be positive")
	}
	if c.TTS.SampleRate <= 0 {
		return errors.New("config: tts.sample_rate must be positive")
	}
	return nil
}
