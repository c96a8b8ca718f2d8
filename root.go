package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/any-hub/modcache/internal/version"
)

type rootOptions struct {
	configPath string
}

// resolveConfigPath 按 --config > MODCACHE_CONFIG 的顺序确定配置文件，均为空时只使用默认值与环境变量。
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return os.Getenv(configEnvVar)
}

// newRootCommand 每次调用都构建新的命令树，避免测试之间共享 flag 状态。
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "modcache",
		Short:         "远程模块拉取缓存",
		Long:          "modcache 下载并缓存 http/https 模块，解析 data/file specifier，并维护编译派生产物。",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径（可被 MODCACHE_CONFIG 覆盖）")

	root.AddCommand(
		newFetchCommand(opts),
		newInfoCommand(opts),
		newArtifactCommand(opts),
		newServeCommand(opts),
		newCheckConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

func newCheckConfigCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(root.resolveConfigPath())
		},
	}
}
