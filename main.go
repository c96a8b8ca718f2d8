package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// 退出码：0 成功，1 运行期失败，2 参数错误。
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

// configEnvVar 在未传 --config 时提供配置文件路径。
const configEnvVar = "MODCACHE_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
	stdIn  io.Reader = os.Stdin
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行命令行并返回退出码，方便测试。
func run(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.SetIn(stdIn)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}

	var rerr *runtimeError
	if errors.As(err, &rerr) {
		fmt.Fprintln(stdErr, rerr.Error())
		return exitRuntime
	}
	fmt.Fprintf(stdErr, "解析参数失败: %v\n", err)
	return exitUsage
}

// runtimeError 区分运行期失败与 cobra 返回的参数错误。
type runtimeError struct {
	err error
}

func (e *runtimeError) Error() string { return e.err.Error() }
func (e *runtimeError) Unwrap() error { return e.err }

func fail(format string, args ...any) error {
	return &runtimeError{err: fmt.Errorf(format, args...)}
}
