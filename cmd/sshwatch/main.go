package main

import (
	"os"

	"github.com/narizgnaw/sshwatch/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "sshwatch",
		Short:        "SSH 登录监控：实时跟踪认证日志并发送登录与暴力破解告警",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "配置文件路径")

	root.AddCommand(
		newRunCmd(&configPath),
		newCheckCmd(&configPath),
		newServiceCmd(&configPath),
	)
	return root
}
