package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/modcache/internal/server"
	"github.com/any-hub/modcache/internal/server/routes"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := bootstrap(root.resolveConfigPath(), bootstrapOptions{})
			if err != nil {
				return err
			}
			if err := startHTTPServer(env); err != nil {
				return fail("HTTP 服务启动失败: %v", err)
			}
			return nil
		},
	}
}

func startHTTPServer(env *runtimeEnv) error {
	port := env.cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     env.logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, routes.Dependencies{
		Fetcher:   env.fetcher,
		Artifacts: env.artifacts,
		Logger:    env.logger,
	})

	env.logger.WithFields(logrus.Fields{
		"action":     "listen",
		"port":       port,
		"cache_root": env.dir.Root,
		"read_only":  env.dir.ReadOnly,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
