package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// main 是 DefiFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("defiflowd 运行失败: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "defiflowd",
		Short:         "DefiFlow 工作流执行引擎",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "配置文件路径，也可通过 DEFIFLOW_CONFIG 指定")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "启动 HTTP API、价格流与执行引擎",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "validate FILE",
			Short: "离线校验工作流图",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return validateFile(cmd, configPath, args[0])
			},
		},
		newStatusCommand(),
	)
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("DEFIFLOW_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "defiflow.json")
}
