package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-agent-console/internal/api"
	"social-agent-console/internal/approval"
	"social-agent-console/internal/attribution"
	"social-agent-console/internal/config"
	"social-agent-console/internal/cooldown"
	"social-agent-console/internal/media"
	"social-agent-console/internal/store"
	"social-agent-console/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	wake := cooldown.NewWake(redisClient)

	previewer, err := media.NewPreviewer(ctx, media.Options{
		S3Bucket:    cfg.MediaS3Bucket,
		S3Region:    cfg.MediaS3Region,
		S3Endpoint:  cfg.MediaS3Endpoint,
		S3PathStyle: cfg.MediaS3PathStyle,
		LocalDir:    cfg.MediaLocalDir,
		MaxBytes:    cfg.MediaMaxBytes,
		ThumbWidth:  cfg.PreviewWidth,
	}, log.Named("media"))
	if err != nil {
		log.Fatal("init previewer", zap.Error(err))
	}

	approvals := approval.New(st, previewer, log.Named("approval"))
	reviews := attribution.New(st, log.Named("attribution"))

	server := api.New(st, st, approvals, reviews, wake, log.Named("api"))
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
