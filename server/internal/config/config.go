package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Responder     ResponderConfig     `yaml:"responder"`
	Speech        SpeechConfig        `yaml:"speech"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
	History       HistoryConfig       `yaml:"history"`
	Logging       LoggingConfig       `yaml:"logging"`
	Paths         PathsConfig         `yaml:"paths"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"` // 单条 WebSocket 消息的写超时
	AllowedOrigins []string      `yaml:"allowed_origins"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig 面试官回复与反馈使用的模型
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string        `yaml:"api_key"`
	APIURL      string        `yaml:"api_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ResponderConfig 回复获取客户端
type ResponderConfig struct {
	// Endpoint 非空时通过远端 /api/ai 获取回复，否则直接调用本地 LLM。
	Endpoint        string        `yaml:"endpoint"`
	Window          int           `yaml:"window"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	FeedbackTimeout time.Duration `yaml:"feedback_timeout"`
}

// SpeechConfig 语音合成策略（引擎在浏览器侧）
type SpeechConfig struct {
	Locale           string        `yaml:"locale"`
	PreferredVoices  []string      `yaml:"preferred_voices"`
	MaxChunk         int           `yaml:"max_chunk"`
	CompactMaxChunk  int           `yaml:"compact_max_chunk"`
	ChunkDelay       time.Duration `yaml:"chunk_delay"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	DefaultRate      float64       `yaml:"default_rate"`
}

// TranscriptionConfig 备用转写服务
type TranscriptionConfig struct {
	Provider     string        `yaml:"provider"` // "assemblyai" or "" (disabled)
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	TypingInterval time.Duration `yaml:"typing_interval"`
	HelloTimeout   time.Duration `yaml:"hello_timeout"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// StorageConfig 面试记录存储
type StorageConfig struct {
	Driver     string `yaml:"driver"` // "memory" or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

// HistoryConfig 最近会话列表
type HistoryConfig struct {
	Driver string        `yaml:"driver"` // "memory" or "redis"
	Limit  int           `yaml:"limit"`
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig 日志输出位置：stdout、stderr 或文件路径
type LoggingConfig struct {
	Output string `yaml:"output"`
}

type PathsConfig struct {
	Prompts string `yaml:"prompts"`
}

// Default 返回可直接本地运行的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load 从文件加载配置；path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		log.Printf("[Config] loading config from %s", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	log.Printf("[Config] server=%s llm=%s model=%s storage=%s history=%s transcription=%s",
		cfg.Server.Addr(), cfg.LLM.Provider, cfg.ActiveProvider().Model,
		cfg.Storage.Driver, cfg.History.Driver, orNone(cfg.Transcription.Provider))
	return &cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息与部署相关项
func (c *Config) applyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.Anthropic.APIKey = key
		default:
			c.LLM.OpenAI.APIKey = key
		}
	}
	if key := os.Getenv("ASSEMBLYAI_API_KEY"); key != "" {
		c.Transcription.APIKey = key
		if c.Transcription.Provider == "" {
			c.Transcription.Provider = "assemblyai"
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.History.Redis.Addr = addr
		c.History.Driver = "redis"
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.History.Redis.Password = pw
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		c.Storage.SQLitePath = path
		c.Storage.Driver = "sqlite"
	}
	if endpoint := os.Getenv("AI_ENDPOINT"); endpoint != "" {
		c.Responder.Endpoint = endpoint
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = 30 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	defaultsFor(&c.LLM.OpenAI, "https://api.openai.com/v1", "gpt-4-turbo")
	defaultsFor(&c.LLM.Anthropic, "https://api.anthropic.com/v1", "claude-3-5-sonnet-latest")

	if c.Responder.Window == 0 {
		c.Responder.Window = 15
	}
	if c.Responder.ResponseTimeout == 0 {
		c.Responder.ResponseTimeout = 30 * time.Second
	}
	if c.Responder.FeedbackTimeout == 0 {
		c.Responder.FeedbackTimeout = 30 * time.Second
	}

	if c.Speech.Locale == "" {
		c.Speech.Locale = "en-US"
	}
	if len(c.Speech.PreferredVoices) == 0 {
		c.Speech.PreferredVoices = []string{"Google US English", "Google UK English", "Microsoft", "Samantha", "Alex"}
	}
	if c.Speech.MaxChunk == 0 {
		c.Speech.MaxChunk = 200
	}
	if c.Speech.CompactMaxChunk == 0 {
		c.Speech.CompactMaxChunk = 150
	}
	if c.Speech.ChunkDelay == 0 {
		c.Speech.ChunkDelay = 50 * time.Millisecond
	}
	if c.Speech.WatchdogInterval == 0 {
		c.Speech.WatchdogInterval = 3 * time.Second
	}
	if c.Speech.DefaultRate == 0 {
		c.Speech.DefaultRate = 1.0
	}

	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = "https://api.assemblyai.com/v2"
	}
	if c.Transcription.PollInterval == 0 {
		c.Transcription.PollInterval = time.Second
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 60 * time.Second
	}

	if c.Session.TypingInterval == 0 {
		c.Session.TypingInterval = 30 * time.Millisecond
	}
	if c.Session.HelloTimeout == 0 {
		c.Session.HelloTimeout = 10 * time.Second
	}
	if c.Session.PersistTimeout == 0 {
		c.Session.PersistTimeout = 5 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "knowledgeai.db"
	}
	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.History.Limit == 0 {
		c.History.Limit = 10
	}
	if c.History.TTL == 0 {
		c.History.TTL = 24 * time.Hour
	}
	if c.History.Redis.Addr == "" {
		c.History.Redis.Addr = "localhost:6379"
	}

	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

func defaultsFor(p *LLMProviderConfig, url, model string) {
	if p.APIURL == "" {
		p.APIURL = url
	}
	if p.Model == "" {
		p.Model = model
	}
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 500
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
}

// ActiveProvider 当前选择的模型提供商配置
func (c *Config) ActiveProvider() LLMProviderConfig {
	if c.LLM.Provider == "anthropic" {
		return c.LLM.Anthropic
	}
	return c.LLM.OpenAI
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	// 远端 responder 模式下本地不需要模型密钥
	if c.Responder.Endpoint == "" && c.ActiveProvider().APIKey == "" {
		return fmt.Errorf("%s API key is required (set OPENAI_API_KEY / ANTHROPIC_API_KEY or config)", c.LLM.Provider)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	switch c.History.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported history driver: %s", c.History.Driver)
	}
	if c.Transcription.Provider != "" && c.Transcription.Provider != "assemblyai" {
		return fmt.Errorf("unsupported transcription provider: %s", c.Transcription.Provider)
	}
	if c.Transcription.Provider == "assemblyai" && c.Transcription.APIKey == "" {
		return fmt.Errorf("assemblyai API key is required (set ASSEMBLYAI_API_KEY)")
	}
	if c.Responder.Window < 1 {
		return fmt.Errorf("responder window must be positive")
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
