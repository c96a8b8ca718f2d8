package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的前缀。
const EnvPrefix = "MODCACHE"

// envKeys 列出允许通过 MODCACHE_* 覆盖的配置项。
var envKeys = map[string]string{
	"CacheRoot":         "CACHE_ROOT",
	"CacheSetting":      "CACHE_SETTING",
	"AllowRemote":       "ALLOW_REMOTE",
	"MaxRedirects":      "MAX_REDIRECTS",
	"UpstreamTimeout":   "UPSTREAM_TIMEOUT",
	"AuthTokens":        "AUTH_TOKENS",
	"BasicAuthEncoding": "BASIC_AUTH_ENCODING",
	"ReadOnly":          "READ_ONLY",
	"ListenPort":        "LISTEN_PORT",
	"LogLevel":          "LOG_LEVEL",
	"LogFilePath":       "LOG_FILE_PATH",
	"LogMaxSize":        "LOG_MAX_SIZE",
	"LogMaxBackups":     "LOG_MAX_BACKUPS",
	"LogCompress":       "LOG_COMPRESS",
}

// Load 读取 TOML 配置（path 为空时仅使用默认值），叠加 MODCACHE_* 环境变量后校验。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, EnvPrefix+"_"+env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), cacheSettingDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CacheRoot", "")
	v.SetDefault("CacheSetting", "use")
	v.SetDefault("AllowRemote", true)
	v.SetDefault("MaxRedirects", 10)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("AuthTokens", "")
	v.SetDefault("BasicAuthEncoding", "raw")
	v.SetDefault("ReadOnly", "auto")
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.MaxRedirects == 0 {
		g.MaxRedirects = 10
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.CacheSetting.Mode == "" && g.CacheSetting.Prefixes == nil {
		g.CacheSetting.Mode = "use"
	}
	g.BasicAuthEncoding = strings.ToLower(strings.TrimSpace(g.BasicAuthEncoding))
	if g.BasicAuthEncoding == "" {
		g.BasicAuthEncoding = "raw"
	}
	g.ReadOnly = strings.ToLower(strings.TrimSpace(g.ReadOnly))
	if g.ReadOnly == "" {
		g.ReadOnly = "auto"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// cacheSettingDecodeHook 支持 CacheSetting = "use" 与 CacheSetting = ["https://deno.land/"] 两种写法。
func cacheSettingDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(CacheSettingValue{})

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return CacheSettingValue{Mode: strings.TrimSpace(v)}, nil
		case []string:
			return CacheSettingValue{Prefixes: append(make([]string, 0, len(v)), v...)}, nil
		case []interface{}:
			prefixes := make([]string, 0, len(v))
			for idx, item := range v {
				str, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("CacheSetting[%d] 必须是字符串: %v", idx, item)
				}
				prefixes = append(prefixes, str)
			}
			return CacheSettingValue{Prefixes: prefixes}, nil
		case CacheSettingValue:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 CacheSetting 类型: %T", v)
		}
	}
}
