package emitcache

import (
	"fmt"
	"strings"
)

// Kind 表示派生产物类型。
type Kind string

const (
	KindDeclaration Kind = "declaration"
	KindEmit        Kind = "emit"
	KindSourceMap   Kind = "sourcemap"
	KindBuildInfo   Kind = "buildinfo"
	KindVersion     Kind = "version"
)

// versionExtension 是版本 sidecar 的扩展名，内容为 JSON。
const versionExtension = "meta"

var kindExtensions = map[Kind]string{
	KindDeclaration: "d.ts",
	KindEmit:        "js",
	KindSourceMap:   "js.map",
	KindBuildInfo:   "buildinfo",
}

// UnknownKindError 表示不支持的产物类型。
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown artifact kind %q, expected one of: %s", e.Kind, strings.Join(KindNames(), ", "))
}

// ParseKind 将字符串转换为 Kind。
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.TrimSpace(raw))
	if kind == KindVersion {
		return kind, nil
	}
	if _, ok := kindExtensions[kind]; ok {
		return kind, nil
	}
	return "", &UnknownKindError{Kind: raw}
}

// KindNames 按固定顺序列出全部类型。
func KindNames() []string {
	return []string{
		string(KindDeclaration),
		string(KindEmit),
		string(KindSourceMap),
		string(KindBuildInfo),
		string(KindVersion),
	}
}

// Extension 返回产物文件扩展名，version 对应 .meta sidecar。
func (k Kind) Extension() (string, error) {
	if k == KindVersion {
		return versionExtension, nil
	}
	if ext, ok := kindExtensions[k]; ok {
		return ext, nil
	}
	return "", &UnknownKindError{Kind: string(k)}
}
