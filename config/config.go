package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Match     MatchConfig     `mapstructure:"match"`
	TMDB      TMDBConfig      `mapstructure:"tmdb"`
	Chat      ChatConfig      `mapstructure:"chat"`
	WS        WSConfig        `mapstructure:"ws"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	Mode          string `mapstructure:"mode"`
	MaxConcurrent int    `mapstructure:"max_concurrent"` // 同时处理的 HTTP 请求上限
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string `mapstructure:"level"`     // debug, info, warn, error, fatal
	Format   string `mapstructure:"format"`    // json, text
	Output   string `mapstructure:"output"`    // stdout, file
	FilePath string `mapstructure:"file_path"` // output = file 时使用
}

// MatchConfig 匹配引擎配置
type MatchConfig struct {
	RoundQuota   int           `mapstructure:"round_quota"`   // 每轮每人需要滑动的电影数
	DeckTTL      time.Duration `mapstructure:"deck_ttl"`      // 牌组缓存时间
	DeckLimit    int           `mapstructure:"deck_limit"`    // 默认牌组大小
	CodeLength   int           `mapstructure:"code_length"`   // 群组码长度
	CodeAttempts int           `mapstructure:"code_attempts"` // 群组码碰撞重试次数
}

type TMDBConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	ImageBase  string        `mapstructure:"image_base"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DetailsTTL time.Duration `mapstructure:"details_ttl"`
}

type ChatConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
	MaxLength    int `mapstructure:"max_length"`
}

// WSConfig WebSocket 连接配置
type WSConfig struct {
	SendBuffer int     `mapstructure:"send_buffer"` // 每个连接的发送队列容量，满则断开
	ReadLimit  int64   `mapstructure:"read_limit"`
	FrameRate  float64 `mapstructure:"frame_rate"` // 每秒允许的上行帧数
	FrameBurst int     `mapstructure:"frame_burst"`
}

type RateLimitConfig struct {
	SwipesPerMinute int           `mapstructure:"swipes_per_minute"` // 每个用户，Redis 计数
	GlobalQPS       float64       `mapstructure:"global_qps"`        // 进程级令牌桶
	GlobalBurst     int           `mapstructure:"global_burst"`
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	DLQTopic     string        `mapstructure:"dlq_topic"`
	GroupID      string        `mapstructure:"group_id"`
	MaxRetries   int           `mapstructure:"max_retries"`   // 落库失败的重试次数，之后转入死信主题
	RetryBackoff time.Duration `mapstructure:"retry_backoff"` // 首次重试间隔，之后翻倍
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_concurrent", 1000)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.dbname", "cinematch")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.expire_hours", 72)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("match.round_quota", 20)
	v.SetDefault("match.deck_ttl", 10*time.Minute)
	v.SetDefault("match.deck_limit", 20)
	v.SetDefault("match.code_length", 6)
	v.SetDefault("match.code_attempts", 10)

	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.image_base", "https://image.tmdb.org/t/p/w500")
	v.SetDefault("tmdb.timeout", 5*time.Second)
	v.SetDefault("tmdb.details_ttl", 24*time.Hour)

	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.max_length", 1000)

	v.SetDefault("ws.send_buffer", 32)
	v.SetDefault("ws.read_limit", 4096)
	v.SetDefault("ws.frame_rate", 10)
	v.SetDefault("ws.frame_burst", 20)

	v.SetDefault("ratelimit.swipes_per_minute", 120)
	v.SetDefault("ratelimit.global_qps", 500)
	v.SetDefault("ratelimit.global_burst", 1000)
	v.SetDefault("ratelimit.wait_timeout", 2*time.Second)

	v.SetDefault("kafka.topic", "cinematch.chat")
	v.SetDefault("kafka.dlq_topic", "cinematch.chat.dlq")
	v.SetDefault("kafka.group_id", "cinematch-chat")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100*time.Millisecond)

	v.SetDefault("snowflake.node_id", 1)
}

// LoadConfig 读取配置文件，环境变量 CINEMATCH_* 覆盖文件中的值
func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("CINEMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if config.Match.RoundQuota <= 0 {
		return nil, fmt.Errorf("match.round_quota 必须大于 0, 当前为 %d", config.Match.RoundQuota)
	}
	return &config, nil
}
