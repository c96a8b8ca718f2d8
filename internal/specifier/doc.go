// Package specifier validates module specifiers (absolute URLs) and maps them
// onto the content-addressed relative paths shared by every cache layer.
//
// 所有缓存（deps/gen）都通过 CacheFilename 推导磁盘路径，保证同一个 URL 在
// 各层落到相同的基础文件名，仅扩展名不同。
package specifier
