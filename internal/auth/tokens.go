// Package auth 解析形如 host@token;host@user:pass 的鉴权配置，
// 并按主机后缀为远程请求生成 Authorization 头。
package auth

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvVar 为未在配置中提供 AuthTokens 时读取的环境变量。
const EnvVar = "DENO_AUTH_TOKENS"

// TokenType 区分 bearer 与 basic 两种凭证。
type TokenType string

const (
	TokenBearer TokenType = "bearer"
	TokenBasic  TokenType = "basic"
)

// BasicEncoding 控制 Basic 凭证的渲染方式。
type BasicEncoding string

const (
	// BasicEncodingRaw 原样输出 user:pass，与 deno_cache 的行为一致。
	BasicEncodingRaw BasicEncoding = "raw"
	// BasicEncodingBase64 按 RFC 7617 输出 base64(user:pass)。
	BasicEncodingBase64 BasicEncoding = "base64"
)

// Token 表示一条按主机作用域生效的凭证。
type Token struct {
	Host     string
	Type     TokenType
	Token    string
	Username string
	Password string
}

// Tokens 在启动时解析一次，之后只读，可被多个 goroutine 共享。
type Tokens struct {
	tokens   []Token
	encoding BasicEncoding
}

// Option 调整 Tokens 的渲染行为。
type Option func(*Tokens)

// WithBasicEncoding 设置 Basic 凭证的编码方式，空值保持 raw。
func WithBasicEncoding(enc BasicEncoding) Option {
	return func(t *Tokens) {
		if enc != "" {
			t.encoding = enc
		}
	}
}

// Parse 解析分号分隔的凭证字符串。缺少 @ 的条目会被丢弃并输出告警，不会中断启动。
func Parse(raw string, logger logrus.FieldLogger, opts ...Option) *Tokens {
	result := &Tokens{encoding: BasicEncodingRaw}
	for _, opt := range opts {
		opt(result)
	}

	for idx, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, credential, ok := splitLast(entry, "@")
		if !ok || host == "" || credential == "" {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action": "auth_tokens",
					"index":  idx,
				}).Warn("auth_token_malformed")
			}
			continue
		}

		// 用户名不能含 ":"（RFC 7617），第一个 ":" 之后全部属于密码
		if username, password, isBasic := strings.Cut(credential, ":"); isBasic {
			result.tokens = append(result.tokens, Token{
				Host:     strings.ToLower(host),
				Type:     TokenBasic,
				Username: username,
				Password: password,
			})
			continue
		}
		result.tokens = append(result.tokens, Token{
			Host:  strings.ToLower(host),
			Type:  TokenBearer,
			Token: credential,
		})
	}
	return result
}

// Len 返回有效凭证数量。
func (t *Tokens) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tokens)
}

// Hosts 返回凭证对应的主机列表，日志中只输出主机不输出凭证。
func (t *Tokens) Hosts() []string {
	if t == nil {
		return nil
	}
	hosts := make([]string, len(t.tokens))
	for i, token := range t.tokens {
		hosts[i] = token.Host
	}
	return hosts
}

// Get 返回第一条主机匹配 u 的凭证渲染结果。
func (t *Tokens) Get(u *url.URL) (string, bool) {
	if t == nil || u == nil {
		return "", false
	}
	for _, token := range t.tokens {
		if hostMatches(token.Host, u) {
			return t.render(token), true
		}
	}
	return "", false
}

func (t *Tokens) render(token Token) string {
	if token.Type == TokenBasic {
		pair := token.Username + ":" + token.Password
		if t.encoding == BasicEncodingBase64 {
			pair = base64.StdEncoding.EncodeToString([]byte(pair))
		}
		return "Basic " + pair
	}
	return "Bearer " + token.Token
}

// hostMatches 要求 token 主机与 URL 主机相等，或是其按 "." 边界的后缀。
func hostMatches(tokenHost string, u *url.URL) bool {
	target := strings.ToLower(u.Hostname())
	if strings.Contains(tokenHost, ":") && u.Port() != "" {
		target = strings.ToLower(u.Host)
	}
	if target == "" {
		return false
	}
	return target == tokenHost || strings.HasSuffix(target, "."+tokenHost)
}

// splitLast 在最后一个 sep 处切分，sep 不存在时 ok 为 false。
func splitLast(value, sep string) (string, string, bool) {
	idx := strings.LastIndex(value, sep)
	if idx < 0 {
		return value, "", false
	}
	return value[:idx], value[idx+len(sep):], true
}
