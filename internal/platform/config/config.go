package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	API      APIConfig      `mapstructure:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 本地 HTTP 服務配置（健康檢查與推播提示 webhook）.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	Timeout int    `mapstructure:"timeout"`
}

// APIConfig 遠端 Marketplace API 配置.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"` // 可由環境變量 API_TOKEN 覆蓋
	CurrentUserID  int64  `mapstructure:"current_user_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RealtimeConfig 即時連線配置.
// Key 為空時即時功能整體停用（降級為輪詢）.
type RealtimeConfig struct {
	Key               string `mapstructure:"key"` // 可由環境變量 REALTIME_KEY 覆蓋
	Cluster           string `mapstructure:"cluster"`
	Host              string `mapstructure:"host"`
	AuthPath          string `mapstructure:"auth_path"`
	HeartbeatInterval int    `mapstructure:"heartbeat_interval_seconds"`
	ReconnectBaseMS   int    `mapstructure:"reconnect_base_ms"`
	ReconnectMaxMS    int    `mapstructure:"reconnect_max_ms"`
	MaxReconnects     int    `mapstructure:"max_reconnects"`
}

// CacheConfig 本地離線快取配置.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
	Message      MessageLimitsConfig    `mapstructure:"message"`
	Unread       UnreadLimitsConfig     `mapstructure:"unread"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength     int `mapstructure:"max_length"`
	ChannelBuffer int `mapstructure:"channel_buffer"`
}

// UnreadLimitsConfig 未讀計數配置.
type UnreadLimitsConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// RateLimitingConfig 本地 webhook 端點的 Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	HooksPerMin      int  `mapstructure:"hooks_per_minute"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		// 驗證配置
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		return nil
	}

	// 初始化 Viper
	v := viper.New()

	// 檢查是否有 CONFIG_PATH 環境變數
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		// 使用 CONFIG_PATH 指定的檔案
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		// 使用預設的環境配置檔案
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 讀取配置檔案
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	// 將配置綁定到結構體
	config = &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	// 敏感值優先使用環境變量（配置檔案不應保存密鑰）
	if token := os.Getenv("API_TOKEN"); token != "" {
		config.API.Token = token
	}
	if key := os.Getenv("REALTIME_KEY"); key != "" {
		config.Realtime.Key = key
	}

	// 驗證配置
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	return nil
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	// 驗證應用程式配置
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	// 驗證本地服務配置
	if cfg.Server.Host == "" {
		return fmt.Errorf("伺服器主機不能為空")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	// 驗證遠端 API 配置
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("API base_url 不能為空")
	}
	if cfg.API.CurrentUserID <= 0 {
		return fmt.Errorf("current_user_id 必須大於 0")
	}
	if cfg.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("API 超時時間必須大於 0")
	}

	// 即時配置：Key 為空是合法的（降級模式），但有 Key 時必須有 cluster
	if cfg.Realtime.Key != "" && cfg.Realtime.Cluster == "" {
		return fmt.Errorf("realtime cluster 不能為空")
	}

	// 驗證快取配置
	if cfg.Cache.Enabled && cfg.Cache.Path == "" {
		return fmt.Errorf("快取路徑不能為空")
	}

	// 驗證日誌配置
	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得本地服務地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}

// GetAPIBaseURL 取得遠端 API base URL
func GetAPIBaseURL() string {
	if config != nil {
		return config.API.BaseURL
	}
	return ""
}

// RealtimeEnabled 檢查即時功能是否啟用
func RealtimeEnabled() bool {
	return config != nil && config.Realtime.Key != ""
}
