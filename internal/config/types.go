package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/modcache/internal/auth"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// CacheSettingValue 保存配置中的缓存策略：字符串写法落在 Mode，数组写法落在 Prefixes。
type CacheSettingValue struct {
	Mode     string
	Prefixes []string
}

// Value 返回可交给 fetcher.ParseCacheSetting 的原始值。
func (c CacheSettingValue) Value() any {
	if c.Prefixes != nil {
		return c.Prefixes
	}
	return c.Mode
}

func (c CacheSettingValue) String() string {
	if c.Prefixes != nil {
		return "[" + strings.Join(c.Prefixes, ",") + "]"
	}
	return c.Mode
}

// GlobalConfig 描述缓存与服务的运行参数。
type GlobalConfig struct {
	CacheRoot         string            `mapstructure:"CacheRoot"`
	CacheSetting      CacheSettingValue `mapstructure:"CacheSetting"`
	AllowRemote       bool              `mapstructure:"AllowRemote"`
	MaxRedirects      int               `mapstructure:"MaxRedirects"`
	UpstreamTimeout   Duration          `mapstructure:"UpstreamTimeout"`
	AuthTokens        string            `mapstructure:"AuthTokens"`
	BasicAuthEncoding string            `mapstructure:"BasicAuthEncoding"`
	ReadOnly          string            `mapstructure:"ReadOnly"`
	ListenPort        int               `mapstructure:"ListenPort"`
	LogLevel          string            `mapstructure:"LogLevel"`
	LogFilePath       string            `mapstructure:"LogFilePath"`
	LogMaxSize        int               `mapstructure:"LogMaxSize"`
	LogMaxBackups     int               `mapstructure:"LogMaxBackups"`
	LogCompress       bool              `mapstructure:"LogCompress"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// EffectiveAuthTokens 优先使用配置中的 AuthTokens，否则读取 DENO_AUTH_TOKENS。
func (g GlobalConfig) EffectiveAuthTokens() string {
	if strings.TrimSpace(g.AuthTokens) != "" {
		return g.AuthTokens
	}
	return os.Getenv(auth.EnvVar)
}

// AuthSource 输出凭证来源，供日志字段使用，不包含凭证本身。
func (g GlobalConfig) AuthSource() string {
	switch {
	case strings.TrimSpace(g.AuthTokens) != "":
		return "config"
	case os.Getenv(auth.EnvVar) != "":
		return "env"
	default:
		return "none"
	}
}
