package cmd

import (
	"context"
	"fmt"
	"time"

	"TrackHub/core/chunk"
	"TrackHub/core/lock"
	"TrackHub/db"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var sweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "清理过期的分片上传会话",
	Long:  `删除超过空闲时间仍未合并的分片目录。使用 Redis 锁时会跳过正在合并的曲目。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ttl := cfg.StagingIdleTTL
		if sweepTTL > 0 {
			ttl = sweepTTL
		}

		var rdb *redis.Client
		if cfg.LockBackend == "redis" {
			var err error
			if rdb, err = db.ConnectRedis(cfg); err != nil {
				return err
			}
			defer rdb.Close()
		}
		locker, err := lock.New(cfg, rdb)
		if err != nil {
			return err
		}

		removed, err := chunk.NewJanitor(cfg.StagingDir, ttl, locker).Sweep(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("已清理 %d 个过期会话\n", len(removed))
		for _, id := range removed {
			fmt.Printf("  ├─ %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "空闲时间阈值 (默认 STAGING_IDLE_TTL)")
}
