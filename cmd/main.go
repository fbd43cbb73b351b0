package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_cart/store-service/internal/cache"
	"github.com/fjod/go_cart/store-service/internal/config"
	"github.com/fjod/go_cart/store-service/internal/gateway"
	storegrpc "github.com/fjod/go_cart/store-service/internal/grpc"
	storehttp "github.com/fjod/go_cart/store-service/internal/http"
	"github.com/fjod/go_cart/store-service/internal/lock"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	"github.com/fjod/go_cart/store-service/internal/notify"
	"github.com/fjod/go_cart/store-service/internal/poller"
	"github.com/fjod/go_cart/store-service/internal/publisher"
	"github.com/fjod/go_cart/store-service/internal/repository"
	"github.com/fjod/go_cart/store-service/internal/service"
	"github.com/fjod/go_cart/store-service/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("store service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	lg.Info("store service starting",
		zap.String("db_driver", cfg.DB.Driver),
		zap.Bool("gateway_configured", cfg.Gateway.Configured()))
	if !cfg.Gateway.Configured() {
		lg.Error("payment gateway credentials missing, checkouts will leave orders pending")
	}

	m := metrics.New()

	creds := cfg.Credentials()
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	lg.Info("database migrations completed")

	var (
		locker service.Locker
		carts  cache.CartCache
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.Checkout.LockTTL)
		carts = cache.NewRedisCache(rdb)
		lg.Info("redis lock and cart cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var sender notify.Sender = notify.LogSender{Log: lg.Named("notify")}
	if cfg.RabbitMQURL != "" {
		rmq, err := notify.NewRabbitMQSender(cfg.RabbitMQURL, cfg.Notify.Queue, 5, lg)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rmq.Close()
		sender = rmq
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Notify.Workers, cfg.Notify.Buffer, lg, m)

	gw := gateway.NewClient(cfg.Gateway, lg, m)
	checkoutSvc := service.NewCheckoutService(repo, gw, dispatcher, locker, carts, lg, m, cfg.Gateway.Currency)
	cartSvc := service.NewCartService(repo, carts, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	var outbox *publisher.OutboxPoller
	if len(cfg.Kafka.Brokers) > 0 {
		outbox = publisher.NewOutboxPoller(repo, cfg.Kafka, lg, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outbox.Run(ctx)
		}()
	} else {
		lg.Info("no kafka brokers configured, order events stay in the outbox")
	}

	payments := poller.NewPaymentPoller(repo, checkoutSvc, cfg.PaymentPollInterval, lg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		payments.Run(ctx)
	}()

	grpcServer := storegrpc.NewServer(repo.Ping, lg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		grpcServer.Watch(ctx, 10*time.Second)
	}()

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		lg.Info("grpc server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			lg.Error("grpc server error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: storehttp.NewRouter(storehttp.RouterConfig{
			Store:          checkoutSvc,
			Carts:          cartSvc,
			Ping:           repo.Ping,
			Log:            lg.Named("http"),
			Metrics:        m,
			RequestTimeout: 30 * time.Second,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		lg.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-serverErr:
		lg.Error("http server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http server forced to shutdown", zap.Error(err))
	}
	grpcServer.Shutdown()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		lg.Info("background workers stopped")
	case <-shutdownCtx.Done():
		lg.Warn("background workers did not stop in time")
	}

	if err := dispatcher.Close(shutdownCtx); err != nil {
		lg.Warn("pending notifications dropped", zap.Error(err))
	}
	if outbox != nil {
		if err := outbox.Close(); err != nil {
			lg.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	lg.Info("store service stopped")
	return nil
}
