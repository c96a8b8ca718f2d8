package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/any-hub/modcache/internal/emitcache"
	"github.com/any-hub/modcache/internal/specifier"
)

type infoRecord struct {
	Specifier string                   `json:"specifier"`
	Scheme    specifier.SchemeMetadata `json:"scheme"`
	Filename  string                   `json:"filename"`
	CacheRoot string                   `json:"cache_root"`
	ReadOnly  bool                     `json:"read_only"`
	Cache     emitcache.Info           `json:"cache"`
}

func newInfoCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <specifier>",
		Short: "显示 specifier 对应的缓存文件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := specifier.Parse(args[0])
			if err != nil {
				return fail("无效的 specifier: %v", err)
			}
			env, err := bootstrap(root.resolveConfigPath(), bootstrapOptions{logToStderr: true})
			if err != nil {
				return err
			}
			meta, _ := specifier.Validate(u)
			filename, err := specifier.CacheFilename(u)
			if err != nil {
				return fail("计算缓存文件名失败: %v", err)
			}

			enc := json.NewEncoder(stdOut)
			enc.SetIndent("", "  ")
			return enc.Encode(infoRecord{
				Specifier: u.String(),
				Scheme:    meta,
				Filename:  filename,
				CacheRoot: env.dir.Root,
				ReadOnly:  env.dir.ReadOnly,
				Cache:     env.artifacts.CacheInfo(u),
			})
		},
	}
}
