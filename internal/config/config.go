package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ==================== 配置 ====================

// Config 进程配置，全部来自环境变量（支持 .env）
type Config struct {
	// 数据库
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSchema   string // 非空时写进 search_path
	DBSSLMode  string
	DBPoolSize int

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// 运行形态
	ClusterEnabled   bool // 走队列还是进程内直跑
	WorkerEnabled    bool // 本进程是否消费队列
	SchedulerEnabled bool // 本进程是否跑调度
	JobConcurrency   int
	ClusterWorkers   int // 非零时覆盖 JOB_CONCURRENCY

	// 平台
	ShopeeIsSandbox  bool   // 进程级旗标，公司列优先
	ShopeeAPIURL     string // 平台网关覆盖，空则按沙箱旗标选择
	InventoryEnabled bool

	// 采集
	CronExpression   string
	MaxRetryCount    int
	OrderBatchSize   int
	OrderPollWindow  int // 分钟，店铺未配置时的默认回看
	TrackingTimeout  time.Duration

	// HTTP
	APIHost string
	APIPort int

	// 日志
	LogLevel string
	LogJSON  bool
}

// Load 读取配置；.env 不存在不算错
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "toms")
	v.SetDefault("DB_SCHEMA", "")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_POOL_SIZE", 10)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CLUSTER_ENABLED", false)
	v.SetDefault("WORKER_ENABLED", true)
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("JOB_CONCURRENCY", 2)
	v.SetDefault("CLUSTER_WORKERS", 0)

	v.SetDefault("SHOPEE_IS_SANDBOX", false)
	v.SetDefault("SHOPEE_API_URL", "")
	v.SetDefault("INVENTORY_ENABLED", false)

	v.SetDefault("CRON_EXPRESSION", "*/10 * * * *")
	v.SetDefault("MAX_RETRY_COUNT", 3)
	v.SetDefault("ORDER_BATCH_SIZE", 50)
	v.SetDefault("ORDER_POLL_WINDOW", 60)
	v.SetDefault("TRACKING_TIMEOUT_SECONDS", 15)

	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("API_PORT", 8080)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)

	return &Config{
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetInt("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSchema:   v.GetString("DB_SCHEMA"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),
		DBPoolSize: v.GetInt("DB_POOL_SIZE"),

		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetInt("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		ClusterEnabled:   v.GetBool("CLUSTER_ENABLED"),
		WorkerEnabled:    v.GetBool("WORKER_ENABLED"),
		SchedulerEnabled: v.GetBool("SCHEDULER_ENABLED"),
		JobConcurrency:   v.GetInt("JOB_CONCURRENCY"),
		ClusterWorkers:   v.GetInt("CLUSTER_WORKERS"),

		ShopeeIsSandbox:  v.GetBool("SHOPEE_IS_SANDBOX"),
		ShopeeAPIURL:     v.GetString("SHOPEE_API_URL"),
		InventoryEnabled: v.GetBool("INVENTORY_ENABLED"),

		CronExpression:  v.GetString("CRON_EXPRESSION"),
		MaxRetryCount:   v.GetInt("MAX_RETRY_COUNT"),
		OrderBatchSize:  v.GetInt("ORDER_BATCH_SIZE"),
		OrderPollWindow: v.GetInt("ORDER_POLL_WINDOW"),
		TrackingTimeout: time.Duration(v.GetInt("TRACKING_TIMEOUT_SECONDS")) * time.Second,

		APIHost: v.GetString("API_HOST"),
		APIPort: v.GetInt("API_PORT"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogJSON:  v.GetBool("LOG_JSON"),
	}
}

// DSN Postgres 连接串
func (c *Config) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
	if c.DBSchema != "" {
		dsn += fmt.Sprintf(" search_path=%s", c.DBSchema)
	}
	return dsn
}

// Workers 消费并发度，CLUSTER_WORKERS 非零时优先
func (c *Config) Workers() int {
	if c.ClusterWorkers > 0 {
		return c.ClusterWorkers
	}
	return c.JobConcurrency
}

// RedisAddr Redis 地址
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// HTTPAddr 监听地址
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}
