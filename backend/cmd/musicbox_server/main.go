package main

import (
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"musicboxServer/backend/config"
)

const FlagConfig = "config"

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:   "musicbox_server",
	Short: "Music box state sync and broadcast server",
}

func main() {
	rootCmd.PersistentFlags().String(FlagConfig, "", "(optional) path to musicboxConfig.yaml")
	rootCmd.AddCommand(GetServeCmd(), GetCheckConfigCmd(), GetTokenCmd())
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("rootCmd.Execute: %v", err)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// newLogger 按 log.level / log.format 构造 slog 处理器
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// GetCheckConfigCmd 只加载并校验配置，不启动任何组件
func GetCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.Printf("config ok: port=%d redis=%v mysql=%t kafka=%v auth=%t\n",
				cfg.Running.Port, cfg.Redis.Addrs, cfg.Mysql.DSN != "", cfg.Kafka.Brokers, cfg.Auth.Secret != "")
			cmd.Printf("sync: %+v\n", cfg.Sync)
			return nil
		},
	}
}
