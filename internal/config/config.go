package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth (LinuxDo)
	LinuxDoClientID     string
	LinuxDoClientSecret string
	LinuxDoRedirectURL  string
	RefreshDisplayName  bool // 再ログイン時に表示名を更新するか

	// Session
	SessionMaxAge int

	// DoneHub（外部クォータサービス）
	DoneHubBaseURL     string
	DoneHubAccessToken string
	DoneHubTimeout     time.Duration
	CurrencyUnit       int64 // 通貨単位1あたりの最小会計単位数

	// サインイン報酬
	SignRewardMin int
	SignRewardMax int

	// 抽選
	LotteryCost          int
	LotteryMaxDailySpins int
	LotteryOptions       []int
	LotteryWeights       []float64
	ExtraPurchaseCost    int
	ExtraPurchaseLimit   int

	// Rate Limit
	RateLimitGeneral int
	RateLimitSpin    int

	// Cache
	ProfileCacheTTL time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// デフォルトの抽選テーブル。重みは正規化済みである必要はない。
var (
	defaultLotteryOptions = []int{10, 20, 30, 50, 60, 100}
	defaultLotteryWeights = []float64{0.50, 0.25, 0.15, 0.05, 0.04, 0.01}
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 抽選テーブルのoptionsとweightsは要素数が一致しなければならない。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.LinuxDoClientID = os.Getenv("LINUXDO_CLIENT_ID")
	if cfg.LinuxDoClientID == "" {
		missing = append(missing, "LINUXDO_CLIENT_ID")
	}

	cfg.LinuxDoClientSecret = os.Getenv("LINUXDO_CLIENT_SECRET")
	if cfg.LinuxDoClientSecret == "" {
		missing = append(missing, "LINUXDO_CLIENT_SECRET")
	}

	cfg.LinuxDoRedirectURL = os.Getenv("LINUXDO_REDIRECT_URL")
	if cfg.LinuxDoRedirectURL == "" {
		missing = append(missing, "LINUXDO_REDIRECT_URL")
	}

	cfg.DoneHubBaseURL = strings.TrimRight(os.Getenv("DONEHUB_BASE_URL"), "/")
	if cfg.DoneHubBaseURL == "" {
		missing = append(missing, "DONEHUB_BASE_URL")
	}

	cfg.DoneHubAccessToken = os.Getenv("DONEHUB_ACCESS_TOKEN")
	if cfg.DoneHubAccessToken == "" {
		missing = append(missing, "DONEHUB_ACCESS_TOKEN")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RefreshDisplayName = getEnvBool("OAUTH_REFRESH_DISPLAY_NAME", false)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.DoneHubTimeout = getEnvDuration("DONEHUB_TIMEOUT", 10*time.Second)
	cfg.CurrencyUnit = getEnvInt64("CURRENCY_UNIT", 500000)
	cfg.SignRewardMin = getEnvInt("SIGN_REWARD_MIN", 50)
	cfg.SignRewardMax = getEnvInt("SIGN_REWARD_MAX", 100)
	cfg.LotteryCost = getEnvInt("LOTTERY_COST", 20)
	cfg.LotteryMaxDailySpins = getEnvInt("LOTTERY_MAX_DAILY_SPINS", 5)
	cfg.ExtraPurchaseCost = getEnvInt("LOTTERY_EXTRA_PURCHASE_COST", 5)
	cfg.ExtraPurchaseLimit = getEnvInt("LOTTERY_EXTRA_PURCHASE_LIMIT", 5)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSpin = getEnvInt("RATE_LIMIT_SPIN", 30)
	cfg.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", 5*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	var err error
	cfg.LotteryOptions, err = getEnvIntSlice("LOTTERY_OPTIONS", defaultLotteryOptions)
	if err != nil {
		return nil, fmt.Errorf("invalid LOTTERY_OPTIONS: %w", err)
	}
	cfg.LotteryWeights, err = getEnvFloatSlice("LOTTERY_WEIGHTS", defaultLotteryWeights)
	if err != nil {
		return nil, fmt.Errorf("invalid LOTTERY_WEIGHTS: %w", err)
	}
	if len(cfg.LotteryOptions) != len(cfg.LotteryWeights) {
		return nil, fmt.Errorf("lottery options/weights length mismatch: %d != %d",
			len(cfg.LotteryOptions), len(cfg.LotteryWeights))
	}
	if cfg.SignRewardMin > cfg.SignRewardMax {
		return nil, fmt.Errorf("SIGN_REWARD_MIN (%d) exceeds SIGN_REWARD_MAX (%d)",
			cfg.SignRewardMin, cfg.SignRewardMax)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvIntSlice はカンマ区切りの整数リストを読み込む。
func getEnvIntSlice(key string, defaultVal []int) ([]int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	parts := strings.Split(v, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, nil
}

// getEnvFloatSlice はカンマ区切りの小数リストを読み込む。
func getEnvFloatSlice(key string, defaultVal []float64) ([]float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	parts := strings.Split(v, ",")
	result := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, nil
}
