package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"studyroom-backend/internal/config"
	"studyroom-backend/internal/handlers"
	"studyroom-backend/internal/kafka"
	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/middleware"
	"studyroom-backend/internal/qpay"
	rediswrap "studyroom-backend/internal/redis"
	"studyroom-backend/internal/services"
	"studyroom-backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// Global logger instance
var log *logger.Logger

func main() {
	log = logger.NewLogger()
	defer log.Close()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Warn("ENV", "Error loading .env file, using environment variables")
	}

	log.LogProcess("STARTUP", "Study room backend starting up...")

	cfg := config.Load()
	log.Info("CONFIG", "Configuration loaded successfully")

	log.LogProcess("DATABASE", "Initializing MySQL database...")
	store, err := storage.NewMySQLStore(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", "Failed to initialize MySQL: "+err.Error())
	}
	defer store.Close()

	log.LogProcess("KAFKA", "Initializing Kafka producer...")
	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MockMode, log)
	if err != nil {
		log.Fatal("KAFKA", "Failed to create Kafka producer: "+err.Error())
	}
	defer kafkaProducer.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	var sweepLock services.SweepLock
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("REDIS", "Redis unreachable, reconciler runs without cross-instance lock: "+err.Error())
	} else {
		sweepLock = rediswrap.NewRedis(redisClient)
		log.LogProcess("REDIS", "Redis connection established")
	}

	gateway := qpay.NewClient(cfg.QPay, log)
	log.LogProcess("GATEWAY", "QPay client initialized")

	// Initialize services
	paymentService := services.NewPaymentService(store, gateway, kafkaProducer, log)
	orderService := services.NewOrderService(store, paymentService, kafkaProducer, log)
	membershipService := services.NewMembershipService(store, log)
	statisticsService := services.NewStatisticsService(store, log)
	log.LogProcess("SERVICE", "All services initialized")

	reconciler := services.NewReconciler(store, paymentService, sweepLock, log,
		cfg.Reconciler.Interval, cfg.Reconciler.Lookback)
	reconciler.Start()
	defer reconciler.Stop()

	// Consume order events so payments open automatically for new orders.
	if !cfg.Kafka.MockMode {
		kafkaConsumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			log.Fatal("KAFKA", "Failed to create Kafka consumer: "+err.Error())
		}
		defer kafkaConsumer.Close()

		go func() {
			log.LogKafka("START", "consumer", "Starting Kafka consumer goroutine")
			if err := kafkaConsumer.ConsumeOrders(context.Background(), paymentService.ProcessOrderEvent); err != nil {
				log.Error("KAFKA", "Consumer error: "+err.Error())
			}
		}()
	}

	// Initialize handlers
	orderHandler := handlers.NewOrderHandler(orderService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	membershipHandler := handlers.NewMembershipHandler(membershipService)
	statisticsHandler := handlers.NewStatisticsHandler(statisticsService, store)
	log.LogProcess("HANDLER", "All handlers initialized")

	router := setupRouter(orderHandler, paymentHandler, membershipHandler, statisticsHandler)
	log.LogProcess("ROUTER", "HTTP router configured")

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.LogProcess("SERVER", "Starting HTTP server on port "+cfg.Server.Port)
		log.Info("STARTUP", "Study room backend is ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", "Server failed to start: "+err.Error())
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("SHUTDOWN", "Received shutdown signal, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("SHUTDOWN", "Server forced to shutdown: "+err.Error())
	}

	log.Info("SHUTDOWN", "Study room backend shutdown completed")
}

func setupRouter(orderHandler *handlers.OrderHandler, paymentHandler *handlers.PaymentHandler,
	membershipHandler *handlers.MembershipHandler, statisticsHandler *handlers.StatisticsHandler) *gin.Engine {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.EnhancedLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(log))
	router.Use(middleware.SecurityHeaders(log))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "studyroom-backend",
			"version":   "1.0.0",
		})
	})

	v1 := router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", orderHandler.CreateOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/status", orderHandler.UpdateStatus)
			orders.POST("/:id/cancel", orderHandler.CancelOrder)
		}

		payments := v1.Group("/payments")
		{
			payments.POST("", paymentHandler.CreatePayment)
			payments.GET("/:id", paymentHandler.GetPayment)
			payments.GET("/order/:order_id", paymentHandler.GetPaymentByOrder)
			payments.POST("/:id/invoice", paymentHandler.RequestInvoice)
			payments.POST("/callback", paymentHandler.Callback)
			payments.POST("/refund", paymentHandler.RefundPayment)
		}

		memberships := v1.Group("/memberships")
		{
			memberships.POST("/recharge", membershipHandler.Recharge)
			memberships.GET("/:user_id", membershipHandler.GetProfile)
			memberships.GET("/:user_id/recharges", membershipHandler.RechargeHistory)
		}

		v1.GET("/seats/:id/reservations", statisticsHandler.SeatReservations)

		statistics := v1.Group("/statistics")
		{
			statistics.GET("/revenue", statisticsHandler.Revenue)
			statistics.GET("/orders", statisticsHandler.OrderCounts)
		}
	}

	log.LogProcess("ROUTER", "All routes registered successfully")
	return router
}
