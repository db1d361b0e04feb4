// Package main запускает HTTP-сервер сервиса ателье.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/houseoftailors/atelier/internal/config"
	"github.com/houseoftailors/atelier/internal/handler"
	"github.com/houseoftailors/atelier/internal/loyalty"
	"github.com/houseoftailors/atelier/internal/middleware"
	"github.com/houseoftailors/atelier/internal/pricing"
	"github.com/houseoftailors/atelier/internal/repository"
	"github.com/houseoftailors/atelier/internal/service"
	"github.com/houseoftailors/atelier/internal/slot"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	shopConfig, err := repo.LoadShopConfig(startCtx)
	cancelStart()
	if err != nil {
		sugar.Fatalw("shop configuration error", "error", err.Error())
	}

	calc, err := pricing.NewCalculator(shopConfig.DeliveryOptions)
	if err != nil {
		sugar.Fatalw("pricing configuration error", "error", err.Error())
	}

	allocator := slot.NewAllocator(shopConfig.PickupSchedule, cfg.SlotHorizonWeeks)
	ledger := loyalty.NewLedger(repo)

	svc := service.NewService(repo, calc, allocator, ledger, logger)
	defer svc.Close()

	secret := cfg.AuthSecret
	if secret == "" {
		secret = "atelier-secret"
	}
	authMiddleware := middleware.NewAuthMiddleware(secret)
	h := handler.NewHandler(svc, shopConfig, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой очистки прошедших окон самовывоза
	g.Go(func() error {
		svc.StartSlotPruning(ctx, time.Duration(cfg.PruneIntervalMins)*time.Minute)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting atelier server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
