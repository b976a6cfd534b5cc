package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/narizgnaw/sshwatch/internal/notify"
	"github.com/spf13/cobra"
)

func main() {
	var outDir string

	cmd := &cobra.Command{
		Use:          "preview-mail",
		Short:        "把每种通知渲染成 HTML 文件，便于预览邮件模板",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return render(cmd.OutOrStdout(), outDir, notify.HostLabel(context.Background()), time.Now())
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "mail-preview", "输出目录")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func render(out io.Writer, dir, host string, at time.Time) error {
	renderer, err := notify.NewRenderer()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	for _, n := range notify.SampleNotifications(at) {
		msg, err := renderer.Render(notify.Envelope{
			ID:           uuid.NewString(),
			Notification: n,
			Host:         host,
			Location:     "Amsterdam, Netherlands",
		})
		if err != nil {
			return err
		}

		path := filepath.Join(dir, n.Kind()+".html")

		if err := os.WriteFile(path, []byte(msg.HTML), 0644); err != nil {
			return fmt.Errorf("写入文件失败: %w", err)
		}
		fmt.Fprintf(out, "✓ %s  [%s]\n", path, msg.Subject)
	}
	return nil
}
