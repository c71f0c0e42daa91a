package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-agent-console/internal/attribution"
	"social-agent-console/internal/config"
	"social-agent-console/internal/cooldown"
	"social-agent-console/internal/credentials"
	"social-agent-console/internal/dispatch"
	"social-agent-console/internal/provider"
	"social-agent-console/internal/store"
	"social-agent-console/internal/telemetry"
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
	cooldowns := cooldown.New(redisClient)
	wake := cooldown.NewWake(redisClient)

	resolver := &credentials.StaticResolver{Tokens: tokensFromEnv()}
	client := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderTimeout, cfg.ProviderCallRate, log.Named("provider"))
	policy := dispatch.RetryPolicy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap}

	workerBase := os.Getenv("WORKER_ID")
	if workerBase == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerBase = hostname
		} else {
			workerBase = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	learning := attribution.NewLearningJob(st, attribution.ScoreReweighter{}, cfg.LearningInterval, cfg.LearningLookback, st.ListAccountIDs, log.Named("learning"))
	go func() {
		_ = learning.Run(ctx)
	}()

	log.Info("workers starting",
		zap.Int("count", cfg.WorkerCount),
		zap.Duration("poll_interval", cfg.WorkerPollInterval),
		zap.Duration("claim_timeout", cfg.ClaimTimeout))

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		d := dispatch.New(dispatch.Options{
			WorkerID:     fmt.Sprintf("%s-%d", workerBase, i),
			PollInterval: cfg.WorkerPollInterval,
			BatchSize:    cfg.ClaimBatchSize,
			ClaimTimeout: cfg.ClaimTimeout,
		}, st, cooldowns, resolver, client, policy, log.Named("dispatch"))

		wakeCh, stopWake := wake.Listen(ctx)
		d.SetWake(wakeCh)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stopWake()
			_ = d.Run(ctx)
		}()
	}
	wg.Wait()
	log.Info("workers stopped")
}

// tokensFromEnv parses ACCOUNT_TOKENS of the form "acct1=tok1,acct2=tok2".
// Production swaps the static resolver for the token service client.
func tokensFromEnv() map[string]string {
	out := map[string]string{}
	raw := os.Getenv("ACCOUNT_TOKENS")
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
