package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores the application configuration.
// Values come from defaults, then an optional YAML file (CONFIG_FILE), then the
// environment (including a .env file), in increasing order of precedence.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// 转码
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	FFprobePath      string        `yaml:"ffprobe_path"`
	AudioBitrate     string        `yaml:"audio_bitrate"` // e.g., "192k"
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`

	// 分片上传
	StagingDir        string        `yaml:"staging_dir"` // per-track chunk directories
	WorkDir           string        `yaml:"work_dir"`    // merged and transcoded files
	MaxChunkFiles     int           `yaml:"max_chunk_files"`
	MaxChunkSize      int64         `yaml:"max_chunk_size"`
	MaxThumbnailSize  int64         `yaml:"max_thumbnail_size"`
	StagingIdleTTL    time.Duration `yaml:"staging_idle_ttl"`
	PrimaryExtensions []string      `yaml:"primary_extensions"`

	// 对象存储
	StorageType     string `yaml:"storage_type"` // minio, s3 or local
	MinioEndpoint   string `yaml:"minio_endpoint"`
	MinioAccessKey  string `yaml:"minio_access_key"`
	MinioSecretKey  string `yaml:"minio_secret_key"`
	MinioRegion     string `yaml:"minio_region"`
	MinioUseSSL     bool   `yaml:"minio_use_ssl"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3Region        string `yaml:"s3_region"`
	S3AccessKey     string `yaml:"s3_access_key"`
	S3SecretKey     string `yaml:"s3_secret_key"`
	S3PathStyle     bool   `yaml:"s3_path_style"`
	LocalStorageDir string `yaml:"local_storage_dir"`
	TrackBucket     string `yaml:"track_bucket"`
	ThumbnailBucket string `yaml:"thumbnail_bucket"`

	// 数据库
	DBDriver   string `yaml:"db_driver"` // mysql, postgres or sqlite
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	SQLitePath string `yaml:"sqlite_path"`

	// 合并锁
	LockBackend string        `yaml:"lock_backend"` // memory or redis
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LockWait    time.Duration `yaml:"lock_wait"`

	// Redis配置
	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	JWTSecret string `yaml:"jwt_secret"`

	// 日志
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSize    int    `yaml:"log_max_size"` // megabytes
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAge     int    `yaml:"log_max_age"` // days
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		FFmpegPath:        "ffmpeg",
		AudioBitrate:      "192k",
		TranscodeTimeout:  10 * time.Minute,
		StagingDir:        filepath.Join("data", "chunks"),
		WorkDir:           filepath.Join("data", "tracks"),
		MaxChunkFiles:     20,
		MaxChunkSize:      10 << 20,
		MaxThumbnailSize:  2 << 20,
		StagingIdleTTL:    6 * time.Hour,
		PrimaryExtensions: []string{".mp4", ".mp3", ".m4a", ".aac", ".wav", ".flac", ".ogg"},
		StorageType:       "minio",
		MinioEndpoint:     "127.0.0.1:9000",
		MinioRegion:       "us-east-1",
		S3Region:          "us-east-1",
		LocalStorageDir:   filepath.Join("data", "objects"),
		TrackBucket:       "tracks",
		ThumbnailBucket:   "thumbnail",
		DBDriver:          "mysql",
		DBHost:            "127.0.0.1",
		DBPort:            "3306",
		DBUser:            "root",
		DBName:            "trackhub",
		SQLitePath:        filepath.Join("data", "trackhub.db"),
		LockBackend:       "memory",
		LockTTL:           15 * time.Minute,
		LockWait:          30 * time.Second,
		RedisHost:         "127.0.0.1",
		RedisPort:         "6379",
		LogLevel:          "info",
		LogMaxSize:        100,
		LogMaxBackups:     5,
		LogMaxAge:         30,
	}
}

// Load loads configuration from environment variables (via .env file), an
// optional YAML file named by CONFIG_FILE, and defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			log.Printf("Ignoring config file %s: %v", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile builds a configuration from defaults overlaid with a YAML file.
// The environment is not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)

	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = getEnv("FFPROBE_PATH", c.FFprobePath)
	c.AudioBitrate = getEnv("AUDIO_BITRATE", c.AudioBitrate)
	c.TranscodeTimeout = getEnvDuration("TRANSCODE_TIMEOUT", c.TranscodeTimeout)

	c.StagingDir = getEnv("STAGING_DIR", c.StagingDir)
	c.WorkDir = getEnv("WORK_DIR", c.WorkDir)
	c.MaxChunkFiles = getEnvInt("MAX_CHUNK_FILES", c.MaxChunkFiles)
	c.MaxChunkSize = getEnvInt64("MAX_CHUNK_SIZE", c.MaxChunkSize)
	c.MaxThumbnailSize = getEnvInt64("MAX_THUMBNAIL_SIZE", c.MaxThumbnailSize)
	c.StagingIdleTTL = getEnvDuration("STAGING_IDLE_TTL", c.StagingIdleTTL)
	if v, ok := os.LookupEnv("PRIMARY_EXTENSIONS"); ok && v != "" {
		c.PrimaryExtensions = splitList(v)
	}

	c.StorageType = getEnv("STORAGE_TYPE", c.StorageType)
	c.MinioEndpoint = getEnv("MINIO_ENDPOINT", c.MinioEndpoint)
	c.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", c.MinioAccessKey)
	c.MinioSecretKey = getEnv("MINIO_SECRET_KEY", c.MinioSecretKey)
	c.MinioRegion = getEnv("MINIO_REGION", c.MinioRegion)
	c.MinioUseSSL = getEnvBool("MINIO_USE_SSL", c.MinioUseSSL)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3Region = getEnv("S3_REGION", c.S3Region)
	c.S3AccessKey = getEnv("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = getEnv("S3_SECRET_KEY", c.S3SecretKey)
	c.S3PathStyle = getEnvBool("S3_PATH_STYLE", c.S3PathStyle)
	c.LocalStorageDir = getEnv("LOCAL_STORAGE_DIR", c.LocalStorageDir)
	c.TrackBucket = getEnv("TRACK_BUCKET", c.TrackBucket)
	c.ThumbnailBucket = getEnv("THUMBNAIL_BUCKET", c.ThumbnailBucket)

	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword) // no hardcoded default
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.LockBackend = getEnv("LOCK_BACKEND", c.LockBackend)
	c.LockTTL = getEnvDuration("LOCK_TTL", c.LockTTL)
	c.LockWait = getEnvDuration("LOCK_WAIT", c.LockWait)

	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogMaxSize = getEnvInt("LOG_MAX_SIZE", c.LogMaxSize)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAge = getEnvInt("LOG_MAX_AGE", c.LogMaxAge)
}

// FFprobe returns the ffprobe binary path, derived from FFmpegPath when unset.
func (c *Config) FFprobe() string {
	if c.FFprobePath != "" {
		return c.FFprobePath
	}
	dir, base := filepath.Split(c.FFmpegPath)
	return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
