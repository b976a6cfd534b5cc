package main

import (
	"context"
	"fmt"

	"github.com/narizgnaw/sshwatch/internal/daemon"
	"github.com/narizgnaw/sshwatch/internal/logger"
	"github.com/spf13/cobra"
)

func newServiceCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "管理系统服务",
	}

	manager := func() (*daemon.Manager, error) {
		log, err := logger.New(logger.Options{Level: "info"})
		if err != nil {
			return nil, err
		}
		path := *configPath
		return daemon.New(path, func(ctx context.Context) error {
			return serve(ctx, path)
		}, log)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "安装并启动系统服务（需要 root）",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				return m.Install()
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "停止并卸载系统服务（需要 root）",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				return m.Uninstall()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "查看系统服务状态",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				status, err := m.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "由服务管理器调用",
			Args:   cobra.NoArgs,
			Hidden: true,
			RunE: func(*cobra.Command, []string) error {
				m, err := manager()
				if err != nil {
					return err
				}
				return m.Run()
			},
		},
	)
	return cmd
}
