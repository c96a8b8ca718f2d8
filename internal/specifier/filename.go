package specifier

import (
	_ "crypto/sha256" // go-digest 需要显式链接 sha256 实现
	"net/url"
	"path"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// CacheFilename 返回 specifier 在缓存根目录下的相对路径（"/" 分隔）：
//
//	http(s): <scheme>/<host[_PORTport]>/<sha256(path?query)>
//	data/blob: <scheme>/<sha256(path?query)>
//	file: file/[UNC/<host>/][<drive>/]<segments...>
//
// 相同 URL 永远得到相同路径；同一结果被 deps 与 gen 两层共享。
func CacheFilename(u *url.URL) (string, error) {
	meta, err := Validate(u)
	if err != nil {
		return "", err
	}
	if meta.Key == SchemeFile {
		return fileFilename(u), nil
	}

	out := []string{meta.Key}
	if meta.Remote {
		out = append(out, hostSegment(meta.Key, u))
	}
	out = append(out, HashPathAndQuery(u))
	return path.Join(out...), nil
}

// CacheFilenameWithExtension 在 CacheFilename 的结果后追加 .<extension>。
func CacheFilenameWithExtension(u *url.URL, extension string) (string, error) {
	base, err := CacheFilename(u)
	if err != nil {
		return "", err
	}
	return base + "." + strings.TrimPrefix(extension, "."), nil
}

// HashPathAndQuery 对 path（含 ?query）做 sha256 并输出十六进制，保证文件名长度固定。
func HashPathAndQuery(u *url.URL) string {
	rest := u.Opaque
	if rest == "" {
		rest = u.EscapedPath()
	}
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	return digest.FromString(rest).Encoded()
}

func hostSegment(scheme string, u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if port == "" || port == defaultPorts[scheme] {
		return host
	}
	return host + "_PORT" + port
}

func fileFilename(u *url.URL) string {
	out := []string{SchemeFile}
	if host := localHost(u); host != "" {
		out = append(out, "UNC", strings.ReplaceAll(host, ":", "_"))
	}

	segments := make([]string, 0, 8)
	for _, segment := range strings.Split(u.Path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	if len(segments) > 0 && isDriveLetter(segments[0]) {
		segments[0] = strings.TrimSuffix(segments[0], ":")
	}
	out = append(out, segments...)
	return path.Join(out...)
}
