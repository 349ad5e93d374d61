package config

import (
	"errors"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"verifyflow"`

	// 存储驱动：postgres 为正式环境，memory 仅用于本地调试
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL 配置
	PostgreSQLHost     string   `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string   `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string   `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string   `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string   `env:"POSTGRESQL_DATABASE" envDefault:"verifyflow"`
	PostgreSQLSchema   string   `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string   `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int      `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int      `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`
	PostgreSQLReplicas []string `env:"POSTGRESQL_REPLICA_DSNS" envSeparator:";"` // 只读副本，读进度时走副本

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"vflow"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置
	JWTSecret        string `env:"JWT_SECRET"` // 必填，用于签名 JWT
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`
	JWTRefreshDays   int    `env:"JWT_REFRESH_DAYS" envDefault:"7"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪配置，endpoint 为空时不启用
	OTLPEndpoint   string  `env:"OTLP_ENDPOINT" envDefault:""`
	TracingSampler float64 `env:"TRACING_SAMPLER" envDefault:"0.1"`

	// 速率限制配置
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// 允许跨域的来源，为空时回显请求的 Origin
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// 认证流程配置
	VerificationCacheTTL             time.Duration `env:"VERIFICATION_CACHE_TTL" envDefault:"30s"`
	VerificationRetryAttempts        uint          `env:"VERIFICATION_RETRY_ATTEMPTS" envDefault:"3"`
	VerificationRetryInitialInterval time.Duration `env:"VERIFICATION_RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	VerificationRetryMaxInterval     time.Duration `env:"VERIFICATION_RETRY_MAX_INTERVAL" envDefault:"2s"`
	VerificationAbandonAfter         time.Duration `env:"VERIFICATION_ABANDON_AFTER" envDefault:"24h"`
	VerificationConflictDetection    bool          `env:"VERIFICATION_CONFLICT_DETECTION" envDefault:"false"` // 依赖的会话表尚未上线，默认关闭
	VerificationReconcileInterval    time.Duration `env:"VERIFICATION_RECONCILE_INTERVAL" envDefault:"10m"`
	VerificationReconcileBatch       int           `env:"VERIFICATION_RECONCILE_BATCH" envDefault:"200"`
}

var errJWTSecretMissing = errors.New("JWT_SECRET is required")

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}
}

// Validate 检查启动所需的必填项，由各个 cmd 在启动时调用
func Validate() error {
	if Cfg.JWTSecret == "" {
		return errJWTSecretMissing
	}

	if Cfg.StoreDriver == "memory" && Cfg.IsProduction() {
		log.Printf("WARN: STORE_DRIVER=memory in production, progress will not survive restarts")
	}

	if Cfg.VerificationRetryAttempts == 0 {
		log.Printf("WARN: VERIFICATION_RETRY_ATTEMPTS is 0, falling back to a single attempt")
		Cfg.VerificationRetryAttempts = 1
	}

	return nil
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) UseMemoryStore() bool {
	return c.StoreDriver == "memory"
}
