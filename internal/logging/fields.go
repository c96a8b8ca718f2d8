package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 specifier/scheme/命中状态字段，供模块加载日志复用。
func FetchFields(specifier, scheme string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"specifier": specifier,
		"scheme":    scheme,
		"cache_hit": cacheHit,
	}
}

// RequestFields 提供 HTTP 服务请求日志字段。
func RequestFields(method, path, requestID string, status int) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
		"status":     status,
	}
}
