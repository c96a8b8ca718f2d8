package main

import (
	"errors"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/any-hub/modcache/internal/cache"
	"github.com/any-hub/modcache/internal/emitcache"
	"github.com/any-hub/modcache/internal/specifier"
)

func newArtifactCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "读取或写入派生产物（emit/declaration/sourcemap/buildinfo/version）",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <kind> <specifier>",
		Short: "输出已缓存的派生产物",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, u, err := parseArtifactArgs(args)
			if err != nil {
				return err
			}
			env, err := bootstrap(root.resolveConfigPath(), bootstrapOptions{logToStderr: true})
			if err != nil {
				return err
			}
			data, err := env.artifacts.Get(cmd.Context(), kind, u)
			if errors.Is(err, cache.ErrNotFound) {
				return fail("未找到 %s 产物: %s", kind, u)
			}
			if err != nil {
				return fail("读取产物失败: %v", err)
			}
			_, err = stdOut.Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <kind> <specifier> [value]",
		Short: "写入派生产物，省略 value 时从 stdin 读取",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, u, err := parseArtifactArgs(args)
			if err != nil {
				return err
			}
			var value []byte
			if len(args) == 3 {
				value = []byte(args[2])
			} else if value, err = io.ReadAll(stdIn); err != nil {
				return fail("读取 stdin 失败: %v", err)
			}

			env, err := bootstrap(root.resolveConfigPath(), bootstrapOptions{logToStderr: true})
			if err != nil {
				return err
			}
			if env.artifacts.ReadOnly() {
				return fail("缓存目录只读，无法写入: %s", env.dir.Root)
			}
			if err := env.artifacts.Set(cmd.Context(), kind, u, value); err != nil {
				return fail("写入产物失败: %v", err)
			}
			return nil
		},
	})
	return cmd
}

func parseArtifactArgs(args []string) (emitcache.Kind, *url.URL, error) {
	kind, err := emitcache.ParseKind(args[0])
	if err != nil {
		return "", nil, fail("%v", err)
	}
	u, err := specifier.Parse(args[1])
	if err != nil {
		return "", nil, fail("无效的 specifier: %v", err)
	}
	return kind, u, nil
}
