package httpcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Headers 是按插入顺序保存的响应头，键统一转为小写，查找不区分大小写。
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders 由若干 key/value 对构造 Headers，奇数个参数时忽略最后一个。
func NewHeaders(pairs ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

// FromHTTP 将 http.Header 转为 Headers，多值头部按 ", " 合并。
func FromHTTP(header http.Header) Headers {
	var h Headers
	for key, values := range header {
		h.Set(key, strings.Join(values, ", "))
	}
	return h
}

// Set 写入或覆盖一个头部，覆盖时保持原有位置。
func (h *Headers) Set(key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, exists := h.values[key]; !exists {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get 返回头部值，不存在时返回空字符串。
func (h Headers) Get(key string) string {
	return h.values[strings.ToLower(strings.TrimSpace(key))]
}

// Lookup 返回头部值以及是否存在。
func (h Headers) Lookup(key string) (string, bool) {
	value, ok := h.values[strings.ToLower(strings.TrimSpace(key))]
	return value, ok
}

// Len 返回头部数量。
func (h Headers) Len() int {
	return len(h.keys)
}

// Keys 返回按插入顺序排列的小写键。
func (h Headers) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Map 返回一份普通 map 拷贝，便于比较或序列化给外部。
func (h Headers) Map() map[string]string {
	result := make(map[string]string, len(h.keys))
	for _, key := range h.keys {
		result[key] = h.values[key]
	}
	return result
}

// Clone 返回深拷贝。
func (h Headers) Clone() Headers {
	var out Headers
	for _, key := range h.keys {
		out.Set(key, h.values[key])
	}
	return out
}

// IsRedirect 表示该条目是指向其他 specifier 的重定向指针。
func (h Headers) IsRedirect() bool {
	_, ok := h.Lookup("location")
	return ok
}

func (h Headers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range h.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(h.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (h *Headers) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*h = Headers{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("headers must be a JSON object")
	}

	var out Headers
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("headers key must be a string")
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("header %q: %w", key, err)
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = out
	return nil
}
