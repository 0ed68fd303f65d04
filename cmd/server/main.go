package main

import (
	"context"
	"net/http"
	"os"

	webAdapter "procurement-engine/internal/adapters/web"
	"procurement-engine/internal/app"
	"procurement-engine/internal/core"
	"procurement-engine/internal/db"
	"procurement-engine/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	log := logger.Must(logger.New())
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	stockService := core.NewStockService(pool)
	eventService := core.NewEventService(pool)
	itemService := core.NewProjectItemService(pool, stockService)
	orderService := core.NewPurchaseOrderService(pool)
	receivingService := core.NewReceivingService(pool, stockService, eventService, orderService)
	settlementService := core.NewSettlementService(pool, stockService, eventService)

	svc := app.NewAppService(pool, stockService, itemService, orderService,
		receivingService, settlementService, eventService)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, logger.Named(log, "http"), allowedOrigins)

	log.Info("server starting", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
