package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/narizgnaw/sshwatch/internal/config"
	"github.com/narizgnaw/sshwatch/internal/notify"
	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check [line...|-]",
		Short: "校验配置文件，并对给出的日志行做分类（- 表示从标准输入读取）",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := check(out, afero.NewOsFs(), *configPath); err != nil {
				return err
			}
			if len(args) == 0 {
				return nil
			}
			if len(args) == 1 && args[0] == "-" {
				return classifyReader(out, cmd.InOrStdin())
			}
			classifyLines(out, args)
			return nil
		},
	}
}

func check(out io.Writer, fs afero.Fs, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ 配置文件有效: %s\n", configPath)

	tailer := sshmonitor.NewTailer(fs, cfg.AuthLog, sshmonitor.WithCreateIfMissing(false))
	if err := tailer.Open(); err != nil {
		if !cfg.CreateIfMissing || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Fprintf(out, "! 认证日志不存在，运行时将自动创建: %s\n", cfg.AuthLog)
	} else {
		fmt.Fprintf(out, "✓ 认证日志可读: %s (%d 字节)\n", cfg.AuthLog, tailer.Offset())
	}

	if cfg.GeoIPDB != "" {
		geo, err := notify.OpenGeoLocator(cfg.GeoIPDB)
		if err != nil {
			return err
		}
		_ = geo.Close()
		fmt.Fprintf(out, "✓ GeoIP 数据库可用: %s\n", cfg.GeoIPDB)
	}

	if cfg.Email.Enabled {
		if _, err := notify.NewRenderer(); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ 邮件通知已启用: %s:%d -> %v\n", cfg.Email.SMTPServer, cfg.Email.SMTPPort, []string(cfg.Email.Recipients))
	}

	fmt.Fprintf(out, "阈值 %d 次 / %s，最低通知级别 %s\n", cfg.FailThreshold, cfg.Window(), cfg.MinSeverity())
	return nil
}

// classifyReader 逐行分类标准输入，空行跳过
func classifyReader(out io.Writer, in io.Reader) error {
	classifier := sshmonitor.NewClassifier()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), sshmonitor.DefaultMaxLineBytes*4)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintln(out, describe(classifier, line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("读取标准输入失败: %w", err)
	}
	return nil
}

func classifyLines(out io.Writer, lines []string) {
	classifier := sshmonitor.NewClassifier()
	for _, line := range lines {
		fmt.Fprintln(out, describe(classifier, line))
	}
}

// describe 单行分类结果：事件、no match 或解析错误
func describe(c *sshmonitor.Classifier, line string) string {
	event, err := c.Classify(line)
	if err != nil {
		var pe *sshmonitor.ParseError
		if errors.As(err, &pe) {
			return "parse error: " + pe.Error()
		}
		return "error: " + err.Error()
	}

	switch e := event.(type) {
	case sshmonitor.SessionClosed:
		return fmt.Sprintf("SessionClosed address=%s port=%d", e.Address, e.Port)
	case sshmonitor.SuccessLogin:
		return fmt.Sprintf("SuccessLogin user=%s address=%s port=%d method=%s", e.User, e.Address, e.Port, e.Method)
	case sshmonitor.FailedLogin:
		return fmt.Sprintf("FailedLogin reason=%q user=%s address=%s port=%d", e.Reason, e.User, e.Address, e.Port)
	default:
		return "no match"
	}
}
