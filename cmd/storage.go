package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"TrackHub/storage"

	"github.com/spf13/cobra"
)

var (
	storageBucket string
	storagePrefix string
	storageQuiet  bool
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "对象存储管理",
	Long:  `查看和管理曲目与封面存储桶中的对象，支持 MinIO、S3 和本地存储后端。`,
}

var storageLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "列出对象并显示统计信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := storage.New(cfg)
		if err != nil {
			return err
		}
		bucket := bucketOrDefault(storageBucket, cfg.TrackBucket)

		objects, stats, err := storage.ListWithStats(context.Background(), store, bucket, storagePrefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}
		if storageQuiet {
			objects = nil
		}
		storage.PrintStats(os.Stdout, stats, objects)
		return nil
	},
}

var storageRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "删除前缀下的所有对象",
	RunE: func(cmd *cobra.Command, args []string) error {
		if storagePrefix == "" {
			return errors.New("删除操作需要指定前缀 (-p)")
		}
		cfg := loadConfig()
		store, err := storage.New(cfg)
		if err != nil {
			return err
		}
		bucket := bucketOrDefault(storageBucket, cfg.TrackBucket)

		n, err := storage.DeletePrefix(context.Background(), store, bucket, storagePrefix)
		if err != nil {
			return fmt.Errorf("删除目录失败: %w", err)
		}
		fmt.Printf("✅ 已删除 %d 个对象 (%s/%s)\n", n, bucket, storagePrefix)
		return nil
	},
}

func bucketOrDefault(bucket, fallback string) string {
	if bucket != "" {
		return bucket
	}
	return fallback
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageLsCmd, storageRmCmd)

	storageCmd.PersistentFlags().StringVarP(&storageBucket, "bucket", "b", "", "存储桶 (默认 TRACK_BUCKET)")
	storageCmd.PersistentFlags().StringVarP(&storagePrefix, "prefix", "p", "", "按前缀过滤或指定要删除的目录")
	storageLsCmd.Flags().BoolVarP(&storageQuiet, "stats", "s", false, "只显示统计信息")

	storageCmd.Example = `  # 列出曲目存储桶中的所有文件
  trackhub storage ls

  # 查看某个曲目的封面
  trackhub storage ls -b thumbnail -p "<trackId>/"

  # 删除某个曲目的所有对象
  trackhub storage rm -p "<trackId>/"`
}
