package specifier

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
)

// UnsupportedSchemeError 表示 specifier 的 scheme 不在 file/http/https/data/blob 之列。
type UnsupportedSchemeError struct {
	Specifier string
	Scheme    string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported scheme %q for module %q, supported schemes: %s",
		e.Scheme, e.Specifier, strings.Join(Keys(), ", "))
}

// Parse 解析绝对 URL 并校验 scheme，返回的 URL 可直接交给各缓存层。
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("specifier is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid specifier %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("specifier %q is not an absolute URL", raw)
	}
	if _, err := Validate(u); err != nil {
		return nil, err
	}
	return Normalize(u), nil
}

// defaultPorts 记录省略端口时的默认值，规范化时会去掉与之相同的显式端口。
var defaultPorts = map[string]string{
	SchemeHTTP:  "80",
	SchemeHTTPS: "443",
}

// Normalize 返回 u 的规范化副本：主机转小写，去掉默认端口，解析路径中的 "." 与 ".."。
// data:/blob: 等不透明 URL 原样返回副本。同一模块的不同写法因此得到相同的缓存路径与记忆键。
func Normalize(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	if u.Opaque != "" {
		clone := *u
		return &clone
	}

	n := u.ResolveReference(&url.URL{})
	n.Host = strings.ToLower(n.Host)
	if port := n.Port(); port != "" && defaultPorts[strings.ToLower(n.Scheme)] == port {
		host := n.Hostname()
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		n.Host = host
	}
	return n
}

// Validate 返回 specifier 对应的 scheme 元数据，未注册的 scheme 直接失败。
func Validate(u *url.URL) (SchemeMetadata, error) {
	scheme := strings.ToLower(u.Scheme)
	meta, ok := Resolve(scheme)
	if !ok {
		return SchemeMetadata{}, &UnsupportedSchemeError{Specifier: u.String(), Scheme: scheme + ":"}
	}
	return meta, nil
}

// LocalPath 将 file: URL 还原为本地文件路径，UNC 主机会被保留为 \\host\ 前缀。
func LocalPath(u *url.URL) (string, error) {
	if !strings.EqualFold(u.Scheme, "file") {
		return "", fmt.Errorf("specifier %q is not a file URL", u.String())
	}
	p := u.Path
	if p == "" {
		return "", fmt.Errorf("invalid file path, specifier: %s", u.String())
	}
	host := localHost(u)
	if runtime.GOOS != "windows" {
		if host != "" {
			return "//" + host + p, nil
		}
		return p, nil
	}

	p = strings.ReplaceAll(p, "/", `\`)
	if host != "" {
		return `\\` + host + p, nil
	}
	trimmed := strings.TrimPrefix(p, `\`)
	if isDriveLetter(firstSegment(trimmed, `\`)) {
		return trimmed, nil
	}
	return p, nil
}

func localHost(u *url.URL) string {
	if u.Host == "" || strings.EqualFold(u.Hostname(), "localhost") {
		return ""
	}
	return u.Host
}

func firstSegment(p, sep string) string {
	if idx := strings.Index(p, sep); idx >= 0 {
		return p[:idx]
	}
	return p
}

func isDriveLetter(segment string) bool {
	if len(segment) != 2 || segment[1] != ':' {
		return false
	}
	c := segment[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
