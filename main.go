package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	commonmw "checkout-service/common/middleware"
	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/kafka"
	"checkout-service/middleware"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/routes"
	"checkout-service/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "checkout-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)

	var sink io.Writer
	if awsErr == nil && getEnvBool("CLOUDWATCH_ENABLED", false) {
		shipper, err := awspkg.NewLogShipper(ctx, awsCfg, os.Getenv("CLOUDWATCH_LOG_GROUP"), serviceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable: %v", err)
		} else {
			sink = shipper
		}
	}

	zapLogger, err := logger.New(getEnv("APP_ENV", "development"), sink)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	if awsErr != nil {
		zapLogger.Warn("AWS config unavailable, SNS/SQS/metrics disabled", zap.Error(awsErr))
	}

	var secrets secretSource
	if awsErr == nil && getEnvBool("AWS_USE_SECRETS", false) {
		secrets = awspkg.NewSecretsClient(awsCfg)
	}
	cfg, err := LoadConfig(ctx, secrets)
	if err != nil {
		zapLogger.Fatal("Failed to load config", zap.Error(err))
	}

	orders, catalog, closeStore := openStore(cfg, awsCfg, awsErr, zapLogger)
	defer closeStore()

	pricing, err := services.NewPricing(cfg.ShippingRates, cfg.TaxRate, cfg.Currency)
	if err != nil {
		zapLogger.Fatal("Invalid pricing config", zap.Error(err))
	}

	var metrics services.Metrics
	var httpMetrics commonmw.MetricsRecorder
	var snsPublisher services.SNSPublisher
	if awsErr == nil {
		mc := awspkg.NewMetricsClient(awsCfg, "Checkout", cfg.CloudWatchEnabled)
		metrics, httpMetrics = mc, mc
		if cfg.OrderSNSTopicARN != "" {
			snsPublisher = awspkg.NewSNSClient(awsCfg)
		}
	}

	var kafkaPublisher services.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, zapLogger)
		defer producer.Close() //nolint:errcheck
		kafkaPublisher = producer
	}
	publisher := services.NewBroadcastPublisher(snsPublisher, cfg.OrderSNSTopicARN, kafkaPublisher, cfg.OrderEventsTopic, zapLogger)

	var ledger services.EventLedger
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close() //nolint:errcheck
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unreachable, duplicate events fall back to state checks", zap.Error(err))
		}
		ledger = services.NewRedisEventLedger(rdb, cfg.EventLedgerTTL)
	}

	gateway := services.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, zapLogger)
	checkoutService := services.NewCheckoutService(orders, catalog, gateway, pricing, publisher, metrics, zapLogger)
	statusService := services.NewOrderStatusService(orders, publisher, zapLogger)
	reconciler := services.NewReconciler(gateway, orders, ledger, publisher, metrics, zapLogger)

	if cfg.GatewayEventsQueueURL != "" && awsErr == nil {
		consumer := services.NewGatewayEventConsumer(reconciler, zapLogger)
		go consumer.Start(ctx, awspkg.NewSQSConsumer(awsCfg, cfg.GatewayEventsQueueURL, zapLogger))
	}

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.RequestLogger(zapLogger))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(commonmw.MetricsMiddleware(httpMetrics, serviceName))
	r.Use(apperrors.ErrorMiddleware(zapLogger))
	r.Use(commonmw.Timeout(cfg.RequestTimeout))

	if err := controllers.RegisterValidators(); err != nil {
		zapLogger.Fatal("Failed to register request validators", zap.Error(err))
	}
	routes.RegisterRoutes(r, routes.Handlers{
		Checkout:          controllers.NewCheckoutController(checkoutService),
		Orders:            controllers.NewOrderController(statusService),
		Webhook:           controllers.NewWebhookController(reconciler),
		Auth:              middleware.AuthMiddleware(auth.NewTokenVerifier(cfg.JWTSecret), cfg.TrustGatewayHeaders, zapLogger),
		CheckoutPerMinute: cfg.CheckoutPerMinute,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Checkout service started",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
	)
	<-ctx.Done()
	zapLogger.Info("Shutting down checkout service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}

// openStore returns the order and catalog stores for the configured backend.
func openStore(cfg *Config, awsCfg sdkaws.Config, awsErr error, logger *zap.Logger) (repository.OrderRepository, repository.ProductRepository, func()) {
	if cfg.StoreBackend == backendDynamoDB {
		if awsErr != nil {
			logger.Fatal("DynamoDB backend requires AWS config", zap.Error(awsErr))
		}
		client := awspkg.NewDynamoDBClient(awsCfg)
		return repository.NewDynamoOrderRepository(client, cfg.DynamoOrdersTable, cfg.DynamoProductsTable),
			repository.NewDynamoProductRepository(client, cfg.DynamoProductsTable),
			func() {}
	}

	db, err := database.Connect(cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	return repository.NewGormOrderRepository(db), repository.NewGormProductRepository(db), func() {
		if err := database.Close(db); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
