package fetcher

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const defaultDataMediaType = "text/plain;charset=US-ASCII"

// decodeDataURL 按 RFC 2397 解析 data: URL，返回媒体类型与正文。
func decodeDataURL(u *url.URL) (string, []byte, error) {
	raw := u.Opaque
	if raw == "" {
		raw = strings.TrimPrefix(u.String(), u.Scheme+":")
	} else if u.RawQuery != "" || u.ForceQuery {
		raw += "?" + u.RawQuery
	}

	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("invalid data url %q: missing ','", u.String())
	}
	meta, payload := raw[:comma], raw[comma+1:]

	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		meta = meta[:len(meta)-len(";base64")]
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid data url %q: %w", u.String(), err)
	}

	mediaType := strings.TrimSpace(meta)
	switch {
	case mediaType == "":
		mediaType = defaultDataMediaType
	case strings.HasPrefix(mediaType, ";"):
		mediaType = "text/plain" + mediaType
	}

	if !isBase64 {
		return mediaType, []byte(unescaped), nil
	}

	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, unescaped)
	body, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		body, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
	}
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload in data url: %w", err)
	}
	return mediaType, body, nil
}
