package main

import (
	"encoding/json"
	"net/url"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/modcache/internal/fetcher"
	"github.com/any-hub/modcache/internal/httpcache"
	"github.com/any-hub/modcache/internal/specifier"
)

// fetchConcurrency 限制一次命令中并行拉取的模块数。
const fetchConcurrency = 4

type fetchOptions struct {
	reload     string
	cachedOnly bool
	noRemote   bool
}

// moduleRecord 是 fetch 命令输出的 JSON 结构。
type moduleRecord struct {
	Requested string            `json:"requested"`
	Kind      string            `json:"kind"`
	Specifier string            `json:"specifier"`
	Headers   httpcache.Headers `json:"headers"`
	Content   string            `json:"content"`
}

func newFetchCommand(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch <specifier>...",
		Short: "拉取模块并写入缓存",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, root.resolveConfigPath(), opts, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.reload, "reload", "", "忽略缓存重新拉取，可写成 --reload=前缀1,前缀2 仅刷新匹配的模块")
	flags.Lookup("reload").NoOptDefVal = "true"
	flags.BoolVar(&opts.cachedOnly, "cached-only", false, "只使用已缓存的模块")
	flags.BoolVar(&opts.noRemote, "no-remote", false, "禁止访问远程模块")
	return cmd
}

func runFetch(cmd *cobra.Command, configPath string, opts *fetchOptions, args []string) error {
	specs := make([]*url.URL, 0, len(args))
	for _, raw := range args {
		u, err := specifier.Parse(raw)
		if err != nil {
			return fail("无效的 specifier: %v", err)
		}
		specs = append(specs, u)
	}

	env, err := bootstrap(configPath, bootstrapOptions{noRemote: opts.noRemote, logToStderr: true})
	if err != nil {
		return err
	}

	base := env.fetcher.Setting()
	if opts.cachedOnly {
		base = fetcher.CachedOnly()
	}
	f := env.fetcher.WithSetting(fetcher.SettingFromReload(opts.reload, base))

	results := make([]*fetcher.LoadResponse, len(specs))
	group, ctx := errgroup.WithContext(cmd.Context())
	group.SetLimit(fetchConcurrency)
	for i, u := range specs {
		group.Go(func() error {
			resp, err := f.Fetch(ctx, u)
			if err != nil {
				return fail("拉取 %s 失败: %v", u, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	var missing []string
	for i, resp := range results {
		if resp == nil {
			missing = append(missing, specs[i].String())
			continue
		}
		record := moduleRecord{
			Requested: specs[i].String(),
			Kind:      resp.Kind,
			Specifier: resp.Specifier,
			Headers:   resp.Headers,
			Content:   string(resp.Content),
		}
		if err := enc.Encode(record); err != nil {
			return fail("输出结果失败: %v", err)
		}
	}
	if len(missing) > 0 {
		return fail("模块不存在: %v", missing)
	}
	return nil
}
