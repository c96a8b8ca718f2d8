package main

import (
	"os"
	"path/filepath"
	"testing"
)

// configFixture 返回 internal/config/testdata 下的配置样例；go test 以包目录（即仓库根）为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("获取工作目录失败: %v", err)
	}
	return filepath.Join(wd, "internal", "config", "testdata", name)
}
