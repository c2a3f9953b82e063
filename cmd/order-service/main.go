package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/MikeMC777/storefront/docs"
	"github.com/MikeMC777/storefront/internal/auth"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/config"
	"github.com/MikeMC777/storefront/internal/events"
	"github.com/MikeMC777/storefront/internal/httpx"
	"github.com/MikeMC777/storefront/internal/lock"
	"github.com/MikeMC777/storefront/internal/logging"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/payment"
	"github.com/MikeMC777/storefront/internal/tracing"
	"github.com/MikeMC777/storefront/internal/user"
)

const serviceName = "order-service"

// @title                       Storefront Order Service
// @version                     1.0
// @description                 Cart, checkout and Paystack payment reconciliation.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("order-service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	paystack, err := payment.NewPaystack(payment.PaystackConfig{
		SecretKey: cfg.PaystackSecretKey,
		BaseURL:   cfg.PaystackBaseURL,
		Currency:  cfg.Currency,
		Timeout:   cfg.PaymentTimeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedisLocker(rdb, "storefront:lock:")
		logger.Info("redis lock enabled", zap.String("addr", cfg.RedisAddr))
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()
		publisher = p
		logger.Info("amqp publisher enabled", zap.String("exchange", cfg.AMQPExchange))
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	if err != nil {
		return err
	}

	users := user.NewService(store.users)
	carts := cart.NewService(store.carts, store.catalog)
	orders := order.NewService(order.Deps{
		Orders:    store.orders,
		Carts:     carts,
		Addresses: store.addresses,
		Gateway:   paystack,
		Events:    publisher,
		Locker:    locker,
		Pricing:   order.Pricing{TaxRate: cfg.TaxRate, ShippingRates: cfg.ShippingRates},
		Logger:    logger,
	})

	rateLimit := cfg.PaymentRateLimit > 0
	if rateLimit {
		if err := httpx.InitRateLimit(cfg.PaymentRateLimit, resVerifyPayment, resCheckout, resInitPayment); err != nil {
			logger.Warn("rate limiting disabled", zap.Error(err))
			rateLimit = false
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(routerDeps{
		Orders:      orders,
		Carts:       carts,
		Webhooks:    paystack,
		Auth:        auth.Middleware(verifier, users, logger),
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   rateLimit,
		Swagger:     true,
	})
	httpSrv := &http.Server{
		Addr:              cfg.OrderSvcAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("order-service listening", zap.String("addr", cfg.OrderSvcAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		return watchHealth(gctx, healthSrv, store.ping, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		healthSrv.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		logger.Info("order-service shut down")
		return err
	})

	return g.Wait()
}

// watchHealth reports SERVING while the database answers pings.
func watchHealth(ctx context.Context, hs *health.Server, ping func(context.Context) error, logger *zap.Logger) error {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := ping(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("database ping failed", zap.Error(err))
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}

	check()
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			check()
		}
	}
}
