package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TrackHub/config"
	"TrackHub/core/audio"
	"TrackHub/core/chunk"
	"TrackHub/core/lock"
	"TrackHub/core/pipeline"
	"TrackHub/core/progress"
	"TrackHub/core/publish"
	"TrackHub/core/stream"
	"TrackHub/db"
	"TrackHub/logger"
	"TrackHub/repository"
	"TrackHub/server"
	"TrackHub/storage"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 TrackHub 服务器",
	Long:  `启动 HTTP 服务器，提供分片上传、合并、进度推送和流式播放接口`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET 未设置，上传与合并接口将拒绝所有请求")
	}

	store, err := storage.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageType, err)
	}
	for _, bucket := range []string{cfg.TrackBucket, cfg.ThumbnailBucket} {
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	logger.Info("对象存储已就绪",
		logger.String("type", store.Type()),
		logger.Strings("buckets", []string{cfg.TrackBucket, cfg.ThumbnailBucket}))

	gdb, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.LockBackend == "redis" {
		if rdb, err = db.ConnectRedis(cfg); err != nil {
			return err
		}
		defer rdb.Close()
	}
	locker, err := lock.New(cfg, rdb)
	if err != nil {
		return err
	}

	repo := repository.NewGormTrackRepository(gdb)
	hub := progress.NewHub(10 * time.Minute)
	defer hub.Close()
	janitor := chunk.NewJanitor(cfg.StagingDir, cfg.StagingIdleTTL, locker)

	p := pipeline.New(pipeline.Deps{
		Receiver:     chunk.NewReceiver(cfg.StagingDir, cfg.MaxChunkFiles, cfg.MaxChunkSize),
		Assembler:    chunk.NewAssembler(cfg.StagingDir, cfg.WorkDir, cfg.PrimaryExtensions),
		Transcoder:   audio.NewFFmpegTranscoder(cfg),
		Publisher:    publish.NewPublisher(store, repo, cfg.TrackBucket, cfg.ThumbnailBucket, cfg.MaxThumbnailSize),
		Repo:         repo,
		Locker:       locker,
		Janitor:      janitor,
		Notifier:     hub,
		MaxThumbnail: cfg.MaxThumbnailSize,
	})

	go func() {
		if err := janitor.Run(ctx, sweepInterval(cfg.StagingIdleTTL)); err != nil {
			logger.Error("分片清理任务退出", logger.ErrorField(err))
		}
	}()

	h := server.NewHandler(p, stream.NewStreamer(store, cfg.TrackBucket), hub, cfg.JWTSecret).
		WithUploadLimit(server.UploadLimit(cfg.MaxChunkFiles, cfg.MaxChunkSize))
	return server.Run(ctx, cfg.HTTPAddr, server.NewRouter(h))
}

// sweepInterval checks a few times per TTL, at most once a minute.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
