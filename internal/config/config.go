package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken string
	// MySQLDSN must include parseTime=true so DATE/TIMESTAMP columns scan
	// into time.Time.
	MySQLDSN string
	AdminID  int64

	// Quota
	FreeDailyLimit  int
	BlockNonPremium bool

	// ModelsLab (Sora, Hailuo, Nano Banana edit)
	ModelsLabKey       string
	ModelsLabEndpoint  string
	ModelsLabEditURL   string
	SoraModel          string
	HailuoModel        string
	ModelsLabEditModel string

	// KIE (Nano Banana Pro text-to-image)
	KIEAPIKey  string
	KIEBaseURL string
	KIEModel   string

	// Higgsfield (DoP image-to-video)
	HFKey     string
	HFSecret  string
	HFBaseURL string
	HFModel   string

	// Polling policy
	PollTotalTimeout time.Duration
	PollCap          time.Duration
	RequestTimeout   time.Duration

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	loadEnvFile()

	cfg := Config{
		AdminID:            getInt64("ADMIN_ID", 0),
		FreeDailyLimit:     getInt("FREE_DAILY_LIMIT", 2),
		BlockNonPremium:    getBool("BLOCK_NON_PREMIUM", false),
		ModelsLabEndpoint:  getEnv("MODELSLAB_ENDPOINT", "https://modelslab.com/api/v7/video-fusion/text-to-video"),
		ModelsLabEditURL:   getEnv("MODELSLAB_EDIT_ENDPOINT", "https://modelslab.com/api/v7/images/image-to-image"),
		SoraModel:          getEnv("SORA_MODEL", "sora-2"),
		HailuoModel:        getEnv("HAILUO_MODEL", "hailuo-text-to-video"),
		ModelsLabEditModel: getEnv("MODELSLAB_EDIT_MODEL", "nano-banana"),
		KIEBaseURL:         getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		KIEModel:           getEnv("KIE_MODEL", "google/nano-banana-pro"),
		HFBaseURL:          getEnv("HF_BASE_URL", "https://platform.higgsfield.ai"),
		HFModel:            getEnv("HF_MODEL", "dop-lite"),
		PollTotalTimeout:   time.Second * time.Duration(getInt("POLL_TOTAL_TIMEOUT_SECONDS", 480)),
		PollCap:            time.Second * time.Duration(getInt("POLL_CAP_SECONDS", 8)),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		AdminListenAddr:    getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           os.Getenv("S3_REGION"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:     getBool("S3_USE_PATH_STYLE", false),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.ModelsLabKey = getEnv("MODELSLAB_KEY", os.Getenv("MODELSLAB_API_KEY"))
	cfg.KIEAPIKey = getEnv("KIE_API_KEY", os.Getenv("NANO_BANANA_API_KEY"))
	cfg.HFKey = os.Getenv("HF_KEY")
	cfg.HFSecret = os.Getenv("HF_SECRET")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.ModelsLabKey == "" && cfg.KIEAPIKey == "" && cfg.HFKey == "" {
		missing = append(missing, "MODELSLAB_KEY or KIE_API_KEY or HF_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads a local .env when present. Missing files are fine: in
// production the platform injects variables directly.
func loadEnvFile() {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates, filepath.Join("configs", ".env"), ".env")

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err == nil {
			return
		}
	}
}
