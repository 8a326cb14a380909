package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-svc/cache"
	"shop-svc/checkout"
	"shop-svc/database"
	"shop-svc/gateway"
	"shop-svc/handlers"
	"shop-svc/kafka"
	"shop-svc/middleware"
	"shop-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Redis is optional; product reads fall back to the database without it
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Warn("Redis unavailable, product cache disabled", zap.Error(err))
		redisClient = nil
	}

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Start Kafka consumer in background
	go func() {
		if err := kafka.StartConsumer(consumer, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("shop-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Checkout workflow service
	gw := gateway.New(logger)
	svc := checkout.NewService(db, gw, producer, logger)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("shop-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	authHandler := handlers.NewAuthHandler(db, logger)
	productHandler := handlers.NewProductHandler(db, redisClient, logger)
	cartHandler := handlers.NewCartHandler(db, svc, logger)
	orderHandler := handlers.NewOrderHandler(svc, logger)
	paymentHandler := handlers.NewPaymentHandler(svc, logger)
	reviewHandler := handlers.NewReviewHandler(db, logger)

	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)

	router.GET("/products", productHandler.GetProducts)
	router.GET("/products/:id", productHandler.GetProduct)
	router.GET("/products/:id/reviews", reviewHandler.ListReviews)

	// Webhook is authenticated by its HMAC signature, not a bearer token
	router.POST("/webhooks/payment", paymentHandler.Webhook)

	authed := router.Group("/", middleware.AuthRequired())
	{
		seller := authed.Group("/", middleware.RequireRoles(models.RoleAdmin, models.RoleSeller))
		{
			seller.POST("/products", productHandler.CreateProduct)
			seller.PUT("/products/:id", productHandler.UpdateProduct)
			seller.DELETE("/products/:id", productHandler.DeleteProduct)
		}

		authed.GET("/cart", cartHandler.GetCart)
		authed.POST("/cart/items", cartHandler.AddItem)
		authed.PUT("/cart/items/:id", cartHandler.UpdateItem)
		authed.DELETE("/cart/items/:id", cartHandler.RemoveItem)

		authed.POST("/orders", orderHandler.CreateOrder)
		authed.GET("/orders", orderHandler.ListOrders)
		authed.GET("/orders/:id", orderHandler.GetOrder)
		authed.POST("/orders/:id/cancel", orderHandler.CancelOrder)

		authed.POST("/orders/:id/payments", paymentHandler.CreatePayment)
		authed.GET("/orders/:id/payment", paymentHandler.GetOrderPayment)

		authed.POST("/products/:id/reviews", reviewHandler.CreateReview)

		admin := authed.Group("/", middleware.RequireRoles(models.RoleAdmin))
		{
			admin.PATCH("/orders/:id/status", orderHandler.UpdateStatus)
			admin.PATCH("/payments/:id/status", paymentHandler.UpdateStatus)
		}
	}

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Shop Service REST API started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
