// Package main запускает HTTP-сервер сервиса продажи ключей.
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

	"github.com/mmeshcher/keyshop-system/internal/config"
	"github.com/mmeshcher/keyshop-system/internal/handler"
	"github.com/mmeshcher/keyshop-system/internal/mailer"
	"github.com/mmeshcher/keyshop-system/internal/middleware"
	"github.com/mmeshcher/keyshop-system/internal/repository"
	"github.com/mmeshcher/keyshop-system/internal/service"
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

	// Клиент почтового шлюза создаётся один раз на процесс и передаётся
	// по ссылке: сервис без настроенной доставки продолжает сверять платежи.
	var dispatcher service.Dispatcher
	if cfg.MailerAddress != "" {
		dispatcher = mailer.NewClient(cfg.MailerAddress, cfg.MailerAPIKey, cfg.MailFrom)
	}

	svc := service.NewService(repo, dispatcher, logger, cfg.ReconcileTimeout)
	defer svc.Close()

	webhookAuth := middleware.NewWebhookAuth(cfg.WebhookToken, logger)
	h := handler.NewHandler(svc, logger, webhookAuth)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting keyshop server", "addr", cfg.RunAddress)
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
