package cmd

import (
	"fmt"
	"os"

	"TrackHub/config"
	"TrackHub/logger"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "trackhub",
	Short: "TrackHub 音频上传与流媒体服务",
	Long: `TrackHub 接收分片上传的音频，合并、转码为 AAC 后发布到对象存储，
并通过 HTTP Range 请求提供可拖动的播放。`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML 配置文件路径 (覆盖 CONFIG_FILE)")
}

// loadConfig loads the configuration and initializes the global logger.
func loadConfig() *config.Config {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})
	return cfg
}
