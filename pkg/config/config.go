package config

import "time"

// ChatSync definition chat_sync_service YAML structure
type ChatSync struct {
	Port       string          `mapstructure:"port"`
	Storage    StorageConfig   `mapstructure:"storage"`
	MongoSQL   DatabaseConfig  `mapstructure:"mongo"`
	PostgreSQL DatabaseConfig  `mapstructure:"pg"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Realtime   RealtimeConfig  `mapstructure:"realtime"`
	Limits     LimitsConfig    `mapstructure:"limits"`
	Bots       BotConfig       `mapstructure:"bots"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Websocket  WebsocketConfig `mapstructure:"websocket"`
}

// StorageConfig select data access driver, "mongo" or "memory"
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
	// Addr 有值時使用單機連線, 否則走 sentinel
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// RealtimeConfig definition realtime merge setting
type RealtimeConfig struct {
	// ReconcileWindow max distance between an optimistic message and its echo
	ReconcileWindow time.Duration `mapstructure:"reconcile_window"`
}

// LimitsConfig definition message content limits (runes)
type LimitsConfig struct {
	DirectMaxLength int `mapstructure:"direct_max_length"`
	RoomMaxLength   int `mapstructure:"room_max_length"`
}

// BotConfig definition simulated participant setting
type BotConfig struct {
	MinBots           int           `mapstructure:"min_bots"`
	MaxBots           int           `mapstructure:"max_bots"`
	OnlineProbability float64       `mapstructure:"online_probability"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	EmitProbability   float64       `mapstructure:"emit_probability"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	PoolTTL           time.Duration `mapstructure:"pool_ttl"`
	PoolSize          int           `mapstructure:"pool_size"`
}

// RateLimitConfig definition per connection send limit
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// WebsocketConfig definition websocket keepalive
type WebsocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// DefaultBotConfig returns the documented bot behaviour
func DefaultBotConfig() BotConfig {
	return BotConfig{
		MinBots:           3,
		MaxBots:           8,
		OnlineProbability: 0.8,
		InitialDelay:      3 * time.Second,
		MinInterval:       15 * time.Second,
		MaxInterval:       30 * time.Second,
		EmitProbability:   0.4,
		Cooldown:          30 * time.Second,
		PoolTTL:           5 * time.Minute,
		PoolSize:          50,
	}
}

// Normalize fill zero values with defaults
func (c *ChatSync) Normalize() {
	if c.Port == "" {
		c.Port = "8082"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "mongo"
	}
	if c.Realtime.ReconcileWindow <= 0 {
		c.Realtime.ReconcileWindow = 10 * time.Second
	}
	if c.Limits.DirectMaxLength <= 0 {
		c.Limits.DirectMaxLength = 1000
	}
	if c.Limits.RoomMaxLength <= 0 {
		c.Limits.RoomMaxLength = 500
	}
	def := DefaultBotConfig()
	if c.Bots.MinBots <= 0 {
		c.Bots.MinBots = def.MinBots
	}
	if c.Bots.MaxBots < c.Bots.MinBots {
		c.Bots.MaxBots = def.MaxBots
	}
	if c.Bots.OnlineProbability <= 0 {
		c.Bots.OnlineProbability = def.OnlineProbability
	}
	if c.Bots.InitialDelay <= 0 {
		c.Bots.InitialDelay = def.InitialDelay
	}
	if c.Bots.MinInterval <= 0 {
		c.Bots.MinInterval = def.MinInterval
	}
	if c.Bots.MaxInterval < c.Bots.MinInterval {
		c.Bots.MaxInterval = def.MaxInterval
	}
	if c.Bots.EmitProbability <= 0 {
		c.Bots.EmitProbability = def.EmitProbability
	}
	if c.Bots.Cooldown <= 0 {
		c.Bots.Cooldown = def.Cooldown
	}
	if c.Bots.PoolTTL <= 0 {
		c.Bots.PoolTTL = def.PoolTTL
	}
	if c.Bots.PoolSize <= 0 {
		c.Bots.PoolSize = def.PoolSize
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Websocket.PingInterval <= 0 {
		c.Websocket.PingInterval = 10 * time.Minute
	}
}
