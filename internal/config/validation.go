package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedCacheModes = map[string]struct{}{
	"only":      {},
	"use":       {},
	"reloadAll": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if g.MaxRedirects < 0 {
		return newFieldError(globalField("MaxRedirects"), "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	if g.LogMaxSize < 0 {
		return newFieldError(globalField("LogMaxSize"), "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError(globalField("LogMaxBackups"), "不能为负数")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError(globalField("LogLevel"), fmt.Sprintf("无法识别的日志级别: %s", g.LogLevel))
	}

	switch g.BasicAuthEncoding {
	case "raw", "base64":
	default:
		return newFieldError(globalField("BasicAuthEncoding"), "仅支持 raw/base64")
	}
	switch g.ReadOnly {
	case "auto", "true", "false":
	default:
		return newFieldError(globalField("ReadOnly"), "仅支持 auto/true/false")
	}

	if err := validateCacheSetting(g.CacheSetting); err != nil {
		return fmt.Errorf("%s: %w", globalField("CacheSetting"), err)
	}
	return nil
}

func validateCacheSetting(setting CacheSettingValue) error {
	if setting.Prefixes == nil {
		if _, ok := supportedCacheModes[setting.Mode]; !ok {
			return fmt.Errorf("仅支持 only/use/reloadAll 或前缀数组，当前值: %q", setting.Mode)
		}
		return nil
	}
	for _, prefix := range setting.Prefixes {
		if err := validatePrefix(prefix); err != nil {
			return err
		}
	}
	return nil
}

func validatePrefix(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("前缀不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("前缀必须是绝对 URL: %s", raw)
	}
	return nil
}
