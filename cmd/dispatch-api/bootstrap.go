package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/cache/rediscache"
	"github.com/BearBump/DispatchBox/internal/services/tickets"
	"github.com/BearBump/DispatchBox/internal/storage/pgticket"
)

type dispatchAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    dispatchAPIOpts
	svc     *tickets.Service
	rl      *rediscache.RateLimiter
	closeDB func()
}

func mustBootstrapDispatchAPI() *dispatchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.DispatchBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	checkpointedTopic := cfg.Kafka.TicketCheckpointedTopicName
	if checkpointedTopic == "" {
		checkpointedTopic = "ticket.checkpointed"
	}
	completedTopic := cfg.Kafka.TicketCompletedTopicName
	if completedTopic == "" {
		completedTopic = "ticket.completed"
	}
	cacheTTL := time.Duration(cfg.DispatchBox.CurrentTicketTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	rlPerMin := int64(cfg.DispatchBox.PunchRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 30
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	svc := tickets.New(st, rc, producer, tickets.Topics{
		TicketCheckpointed: checkpointedTopic,
		TicketCompleted:    completedTopic,
	}, cacheTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &dispatchAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: dispatchAPIOpts{
			httpAddr:                httpAddr,
			swaggerPath:             swaggerPath,
			punchRateLimitPerMinute: rlPerMin,
		},
		svc:     svc,
		rl:      rl,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgticket.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgticket.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *dispatchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *dispatchAPIApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.svc, a.rl)
}
