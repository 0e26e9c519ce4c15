/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/db"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/services"
	"github.com/friendsincode/crazyarms/internal/supervisor"
)

var (
	initRestartAll  bool
	initRenderOnly  bool
	initSubservices []string
)

var initServicesCmd = &cobra.Command{
	Use:   "init-services [service...]",
	Short: "Render service configuration and reconcile supervisor state",
	Long: "Regenerate Liquidsoap/Icecast/supervisor configuration for the named " +
		"services (or all of them) and apply it. Use --render-only to write " +
		"config files without touching supervisor.",
	RunE: runInitServices,
}

func init() {
	initServicesCmd.Flags().BoolVar(&initRestartAll, "restart-all", false,
		"stop all programs before the update and start them after")
	initServicesCmd.Flags().BoolVar(&initRenderOnly, "render-only", false,
		"write config files without calling supervisor")
	initServicesCmd.Flags().StringSliceVar(&initSubservices, "subservice", nil,
		"supervisor program to restart after the update (repeatable)")
	rootCmd.AddCommand(initServicesCmd)
}

func runInitServices(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	redisCache, err := cache.New(cacheCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = redisCache.Close() }()

	confStore, err := conf.New(database, logger)
	if err != nil {
		return fmt.Errorf("load config store: %w", err)
	}

	renderer, err := services.NewRenderer(cfg, confStore, logger)
	if err != nil {
		return fmt.Errorf("build config renderer: %w", err)
	}

	orch := services.NewOrchestrator(cfg, confStore, database, redisCache, renderer,
		supervisor.New(cfg.SupervisorctlBin, logger), events.NewBus(), logger)

	orch.InitServices(context.Background(), services.InitOptions{
		Names:       args,
		RestartAll:  initRestartAll,
		RenderOnly:  initRenderOnly,
		Subservices: initSubservices,
	})
	return nil
}
