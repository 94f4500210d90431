package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Email    EmailConfig    `mapstructure:"email"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	APIBase string `mapstructure:"api_base"` // 默认 /api
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type QueueConfig struct {
	TrainQueue        string `mapstructure:"train_queue"`
	MaxWorkers        int    `mapstructure:"max_workers"`
	StaleAfterMinutes int    `mapstructure:"stale_after_minutes"` // running 任务多久没有更新视为 worker 丢失
}

// QuotaConfig 准入控制（乐观门，不做预留）
type QuotaConfig struct {
	GlobalMaxActive   int `mapstructure:"global_max_active"`
	UserMaxActive     int `mapstructure:"user_max_active"`
	PollMinIntervalMS int `mapstructure:"poll_min_interval_ms"` // 建议的客户端轮询下限，仅文档性
}

type AuthConfig struct {
	BypassInternal bool `mapstructure:"bypass_internal"` // 内网/回环地址免 token
}

type ArtifactConfig struct {
	Root               string `mapstructure:"root"`
	ExperimentStoreURI string `mapstructure:"experiment_store_uri"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`           // 最大文件大小（字节）
	ExpireHours       int      `mapstructure:"expire_hours"`       // 数据集临时文件过期时间（小时）
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // 允许的扩展名
}

type WorkerConfig struct {
	TrainerCmd  string   `mapstructure:"trainer_cmd"`
	TrainerArgs []string `mapstructure:"trainer_args"`
	ScratchDir  string   `mapstructure:"scratch_dir"`
	Device      string   `mapstructure:"device"` // cpu 或 cuda:0
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 部署侧约定的无前缀环境变量名
	viper.BindEnv("quota.global_max_active", "GLOBAL_MAX_ACTIVE")
	viper.BindEnv("quota.user_max_active", "USER_MAX_ACTIVE")
	viper.BindEnv("quota.poll_min_interval_ms", "POLL_MIN_INTERVAL_MS")
	viper.BindEnv("auth.bypass_internal", "BYPASS_INTERNAL")
	viper.BindEnv("artifact.root", "ARTIFACT_ROOT")
	viper.BindEnv("artifact.experiment_store_uri", "EXPERIMENT_STORE_URI")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.api_base", "/api")
	viper.SetDefault("queue.train_queue", "train_jobs")
	viper.SetDefault("queue.max_workers", 4)
	viper.SetDefault("queue.stale_after_minutes", 30)
	viper.SetDefault("quota.global_max_active", 32)
	viper.SetDefault("quota.user_max_active", 8)
	viper.SetDefault("quota.poll_min_interval_ms", 2000)
	viper.SetDefault("upload.max_size", 200*1024*1024)
	viper.SetDefault("upload.expire_hours", 24)
	viper.SetDefault("upload.allowed_extensions", []string{".csv", ".xlsx", ".parquet"})
	viper.SetDefault("worker.device", "cpu")
}
