package main

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/modcache/internal/auth"
	"github.com/any-hub/modcache/internal/config"
	"github.com/any-hub/modcache/internal/denodir"
	"github.com/any-hub/modcache/internal/emitcache"
	"github.com/any-hub/modcache/internal/fetcher"
	"github.com/any-hub/modcache/internal/logging"
	"github.com/any-hub/modcache/internal/server"
	"github.com/any-hub/modcache/internal/version"
)

// bootstrapOptions 调整命令行对配置的覆盖。
type bootstrapOptions struct {
	noRemote bool
	// logToStderr 在未配置日志文件时把日志写到 stderr，stdout 只输出结果。
	logToStderr bool
}

// runtimeEnv 汇总一次命令执行所需的组件。
type runtimeEnv struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
	dir        *denodir.Dir
	fetcher    *fetcher.Fetcher
	artifacts  *emitcache.Cache
}

func loadConfig(configPath string, logOpts ...logging.Option) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fail("加载配置失败: %v", err)
	}
	logger, err := logging.InitLogger(cfg.Global, logOpts...)
	if err != nil {
		return nil, nil, fail("初始化日志失败: %v", err)
	}
	return cfg, logger, nil
}

// bootstrap 遵循“配置 → 日志 → 缓存目录 → 凭证 → Fetcher”的顺序组装组件，
// 所有命令共享同一份缓存实例。
func bootstrap(configPath string, opts bootstrapOptions) (*runtimeEnv, error) {
	var logOpts []logging.Option
	if opts.logToStderr {
		logOpts = append(logOpts, logging.WithConsole(stdErr))
	}
	cfg, logger, err := loadConfig(configPath, logOpts...)
	if err != nil {
		return nil, err
	}

	root, err := denodir.ResolveRoot(cfg.Global.CacheRoot)
	if err != nil {
		return nil, fail("解析缓存目录失败: %v", err)
	}
	mode, err := denodir.ParseReadOnlyMode(cfg.Global.ReadOnly)
	if err != nil {
		return nil, fail("解析只读模式失败: %v", err)
	}
	dir, err := denodir.New(root, mode)
	if err != nil {
		return nil, fail("初始化缓存目录失败: %v", err)
	}

	setting, err := fetcher.ParseCacheSetting(cfg.Global.CacheSetting.Value())
	if err != nil {
		return nil, fail("解析缓存策略失败: %v", err)
	}
	tokens := auth.Parse(
		cfg.Global.EffectiveAuthTokens(),
		logger,
		auth.WithBasicEncoding(auth.BasicEncoding(cfg.Global.BasicAuthEncoding)),
	)

	allowRemote := cfg.Global.AllowRemote && !opts.noRemote
	f, err := fetcher.New(fetcher.Options{
		Client:       server.NewUpstreamClient(cfg),
		HTTPCache:    dir.Deps,
		Auth:         tokens,
		Setting:      setting,
		AllowRemote:  allowRemote,
		MaxRedirects: cfg.Global.MaxRedirects,
		Logger:       logger,
	})
	if err != nil {
		return nil, fail("初始化 fetcher 失败: %v", err)
	}

	fields := logging.BaseFields("startup", configPath)
	fields["cache_root"] = dir.Root
	fields["read_only"] = dir.ReadOnly
	fields["cache_setting"] = setting.String()
	fields["allow_remote"] = allowRemote
	fields["auth_source"] = cfg.Global.AuthSource()
	fields["auth_hosts"] = tokens.Len()
	fields["version"] = version.Full()
	logger.WithFields(fields).Debug("配置加载完成")

	return &runtimeEnv{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		dir:        dir,
		fetcher:    f,
		artifacts:  dir.Artifacts(f),
	}, nil
}

// runCheckConfig 仅加载并校验配置。
func runCheckConfig(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fields := logging.BaseFields("check_config", configPath)
	fields["cache_setting"] = cfg.Global.CacheSetting.String()
	fields["allow_remote"] = cfg.Global.AllowRemote
	fields["auth_source"] = cfg.Global.AuthSource()
	fields["read_only"] = cfg.Global.ReadOnly
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return nil
}
