package version

import "fmt"

// Name 是二进制与 User-Agent 中使用的产品名。
const Name = "modcache"

// Version/Commit 可在构建时通过 -ldflags 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI 与 /-/healthz 使用的版本串。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
}

// UserAgent 返回下载远程模块时携带的 User-Agent。
func UserAgent() string {
	return Name + "/" + Version
}
