package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构体
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Redis       RedisConfig       `yaml:"redis"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Events      EventsConfig      `yaml:"events"`
	Cache       CacheConfig       `yaml:"cache"`
	Admin       AdminConfig       `yaml:"admin"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         string        `yaml:"port"`         // 服务器监听端口
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读取超时时间
	WriteTimeout time.Duration `yaml:"writeTimeout"` // 写入超时时间
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // 空闲超时时间
}

// DatabaseConfig 数据库配置
// Driver: mysql / postgres / sqlite（sqlite 时 Database 为文件路径）
type DatabaseConfig struct {
	Driver   string          `yaml:"driver"`   // 数据库驱动类型
	Host     string          `yaml:"host"`     // 数据库主机地址
	Port     int             `yaml:"port"`     // 数据库端口
	Username string          `yaml:"username"` // 数据库用户名
	Password string          `yaml:"password"` // 数据库密码
	Database string          `yaml:"database"` // 数据库名称
	Charset  string          `yaml:"charset"`  // 字符集
	MaxIdle  int             `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int             `yaml:"maxOpen"`  // 最大打开连接数
	LogSQL   bool            `yaml:"logSQL"`   // 是否打印SQL
	Replicas []ReplicaConfig `yaml:"replicas"` // 只读副本（列表查询走副本）
}

// ReplicaConfig 只读副本，账号与库名沿用主库
type ReplicaConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string        `yaml:"secret"`     // JWT密钥
	ExpireTime time.Duration `yaml:"expireTime"` // JWT过期时间
	Issuer     string        `yaml:"issuer"`     // JWT签发者
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用（关闭时计数缓存与离线通知降级）
	Host     string `yaml:"host"`     // Redis主机地址
	Port     int    `yaml:"port"`     // Redis端口
	Password string `yaml:"password"` // Redis密码
	DB       int    `yaml:"db"`       // Redis数据库编号
}

// WebSocketConfig WebSocket 心跳配置
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"` // 发送ping的间隔
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读超时时间（未收到任何数据则断开）
}

// 计数维护策略
const (
	CounterStrategyIncremental = "incremental" // 与记录变更同事务原子增减
	CounterStrategyRecompute   = "recompute"   // 锁定目标行后重新计数覆盖
)

// ConsistencyConfig 关系/互动一致性配置
type ConsistencyConfig struct {
	CounterStrategy      string `yaml:"counterStrategy"`      // incremental / recompute，整个部署保持一致
	MaxAttempts          int    `yaml:"maxAttempts"`          // 版本冲突时的最大尝试次数
	ReconcileConcurrency int    `yaml:"reconcileConcurrency"` // 批量修复时的并发度
}

// EventsConfig 领域事件配置（NATS）
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NatsURL string `yaml:"natsUrl"`
	Subject string `yaml:"subject"` // 主题前缀
}

// CacheConfig 计数缓存配置
type CacheConfig struct {
	CounterTTL time.Duration `yaml:"counterTTL"`
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Token string `yaml:"token"` // 修复接口使用的 X-Admin-Token，为空则关闭管理接口
}

// LoadConfig 加载配置（混合方式：YAML文件 + 环境变量）
func LoadConfig() *Config {
	path := getEnv("CONFIG_FILE", "config/config.yaml")

	// 1. 首先从YAML文件加载默认配置
	config := loadFromYAML(path)

	// 2. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	return config
}

// loadFromYAML 从YAML文件加载配置
// 文件中未出现的字段保留默认值
func loadFromYAML(filePath string) *Config {
	config := getDefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return config
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return getDefaultConfig()
	}

	return config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 服务器配置
	if port := getEnv("SERVER_PORT", ""); port != "" {
		config.Server.Port = port
	}
	if timeout := getEnvDuration("SERVER_READ_TIMEOUT", 0); timeout > 0 {
		config.Server.ReadTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_WRITE_TIMEOUT", 0); timeout > 0 {
		config.Server.WriteTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_IDLE_TIMEOUT", 0); timeout > 0 {
		config.Server.IdleTimeout = timeout
	}

	// 数据库配置
	if driver := getEnv("DB_DRIVER", ""); driver != "" {
		config.Database.Driver = driver
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}
	if charset := getEnv("DB_CHARSET", ""); charset != "" {
		config.Database.Charset = charset
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.Database.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.Database.MaxOpen = maxOpen
	}
	config.Database.LogSQL = getEnvBool("DB_LOG_SQL", config.Database.LogSQL)
	// DB_REPLICAS=host1:3306,host2:3306
	if replicas := getEnv("DB_REPLICAS", ""); replicas != "" {
		config.Database.Replicas = parseReplicas(replicas, config.Database.Port)
	}

	// JWT配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		config.JWT.Secret = secret
	}
	if expireTime := getEnvDuration("JWT_EXPIRE_TIME", 0); expireTime > 0 {
		config.JWT.ExpireTime = expireTime
	}
	if issuer := getEnv("JWT_ISSUER", ""); issuer != "" {
		config.JWT.Issuer = issuer
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}
	if maxSize := getEnvInt("LOG_MAX_SIZE", 0); maxSize > 0 {
		config.Log.MaxSize = maxSize
	}
	if maxBackups := getEnvInt("LOG_MAX_BACKUPS", 0); maxBackups > 0 {
		config.Log.MaxBackups = maxBackups
	}
	if maxAge := getEnvInt("LOG_MAX_AGE", 0); maxAge > 0 {
		config.Log.MaxAge = maxAge
	}

	// Redis配置
	config.Redis.Enabled = getEnvBool("REDIS_ENABLED", config.Redis.Enabled)
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// WebSocket配置
	if d := getEnvDuration("WS_PING_INTERVAL", 0); d > 0 {
		config.WebSocket.PingInterval = d
	}
	if d := getEnvDuration("WS_READ_TIMEOUT", 0); d > 0 {
		config.WebSocket.ReadTimeout = d
	}

	// 一致性配置
	if strategy := getEnv("COUNTER_STRATEGY", ""); strategy != "" {
		config.Consistency.CounterStrategy = strategy
	}
	if attempts := getEnvInt("CONSISTENCY_MAX_ATTEMPTS", 0); attempts > 0 {
		config.Consistency.MaxAttempts = attempts
	}
	if n := getEnvInt("RECONCILE_CONCURRENCY", 0); n > 0 {
		config.Consistency.ReconcileConcurrency = n
	}

	// 事件配置
	config.Events.Enabled = getEnvBool("EVENTS_ENABLED", config.Events.Enabled)
	if url := getEnv("NATS_URL", ""); url != "" {
		config.Events.NatsURL = url
	}
	if subject := getEnv("EVENTS_SUBJECT", ""); subject != "" {
		config.Events.Subject = subject
	}

	if ttl := getEnvDuration("CACHE_COUNTER_TTL", 0); ttl > 0 {
		config.Cache.CounterTTL = ttl
	}
	if token := getEnv("ADMIN_TOKEN", ""); token != "" {
		config.Admin.Token = token
	}
}

// getDefaultConfig 获取默认配置
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			Username: "storyhub",
			Password: "storyhub",
			Database: "storyhub",
			Charset:  "utf8mb4",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		JWT: JWTConfig{
			Secret:     "your-secret-key",
			ExpireTime: 24 * time.Hour,
			Issuer:     "storyhub",
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/app.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  90 * time.Second,
		},
		Consistency: ConsistencyConfig{
			CounterStrategy:      CounterStrategyIncremental,
			MaxAttempts:          3,
			ReconcileConcurrency: 4,
		},
		Events: EventsConfig{
			Enabled: false,
			NatsURL: "nats://localhost:4222",
			Subject: "storyhub",
		},
		Cache: CacheConfig{
			CounterTTL: 10 * time.Minute,
		},
	}
}

func parseReplicas(value string, defaultPort int) []ReplicaConfig {
	var replicas []ReplicaConfig
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		host, portStr, found := strings.Cut(item, ":")
		port := defaultPort
		if found {
			if p, err := strconv.Atoi(portStr); err == nil {
				port = p
			}
		}
		replicas = append(replicas, ReplicaConfig{Host: host, Port: port})
	}
	return replicas
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
