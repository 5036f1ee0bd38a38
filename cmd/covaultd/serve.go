package main

import (
	"context"
	"errors"

	"CoVault/internal/api"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动只读 HTTP 服务，暴露金库与提案的观测视图",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			server := api.NewServer(a.cfg.Server.Address, orch)
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
