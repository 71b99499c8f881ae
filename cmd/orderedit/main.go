package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/storefront/orderedit/internal/config"
	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/inventory"
	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/queue"
	"github.com/storefront/orderedit/internal/repository"
	"github.com/storefront/orderedit/internal/service"
	"github.com/storefront/orderedit/pkg/auth"
	pkgconfig "github.com/storefront/orderedit/pkg/config"
	domerrors "github.com/storefront/orderedit/pkg/errors"
	"github.com/storefront/orderedit/pkg/logger"
	"github.com/storefront/orderedit/pkg/saga"
	"github.com/storefront/orderedit/pkg/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout)
	log.Infof("starting", map[string]interface{}{"port": cfg.HTTPPort})

	if pkgconfig.IsInsecureDevSecret(cfg.TokenSecret) {
		log.Warn("TOKEN_SECRET is the built-in development value, do not run this in production")
	}

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		log.WithError(err).Error("failed to init tracing")
		os.Exit(1)
	}

	// PostgreSQL
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Error("failed to connect to Redis")
		os.Exit(1)
	}
	log.Info("connected to Redis")

	tokens, err := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		log.WithError(err).Error("failed to init token manager")
		os.Exit(1)
	}

	// 依赖装配
	m := metrics.NewDefault()
	orders := repository.NewOrderRepository(db)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout, log)
	gw.SetRetryHook(m.GatewayRetries.Inc)
	stock := inventory.NewClient(cfg.InventoryBaseURL)
	jobs := queue.NewCaptureQueue(rdb, "", log)
	executor := saga.NewExecutor(saga.NewRedisStore(rdb, "", 7*24*time.Hour), log)

	var lock service.Locker = service.NoopLocker()
	if cfg.OrderLockEnabled {
		lock = queue.NewOrderLock(rdb, "", cfg.OrderLockTTL)
	}

	validator := service.NewValidator(tokens, orders, gw, stock)
	modifications := service.NewModificationService(validator, gw, orders, executor, lock, m, log)
	cancels := service.NewCancelService(validator, orders, gw, jobs, lock, nil, m, log)
	reconciler := service.NewReconciler(orders, gw, jobs, cfg.StaleAfter, m, log)

	// 兜底对账，每小时零分
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileCron, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := reconciler.Run(runCtx); err != nil {
			log.WithError(err).Error("reconciliation round failed")
		}
	}); err != nil {
		log.WithError(err).Error("invalid reconcile cron expression")
		os.Exit(1)
	}
	scheduler.Start()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("POST /v1/orders/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			VariantID string `json:"variantId"`
			Quantity  int64  `json:"quantity"`
			RequestID string `json:"requestId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, domerrors.Newf(domerrors.CodeInvalidParam, "invalid request body: %v", err))
			return
		}
		result, err := modifications.AddItem(r.Context(), &service.ModificationRequest{
			OrderID:   r.PathValue("id"),
			Token:     bearerToken(r),
			VariantID: body.VariantID,
			Quantity:  body.Quantity,
			RequestID: requestID(r, body.RequestID),
		})
		respond(w, result, err)
	})

	mux.HandleFunc("PATCH /v1/orders/{id}/items/{itemId}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Quantity  int64  `json:"quantity"`
			RequestID string `json:"requestId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, domerrors.Newf(domerrors.CodeInvalidParam, "invalid request body: %v", err))
			return
		}
		result, err := modifications.UpdateQuantity(r.Context(), &service.ModificationRequest{
			OrderID:   r.PathValue("id"),
			Token:     bearerToken(r),
			ItemID:    r.PathValue("itemId"),
			Quantity:  body.Quantity,
			RequestID: requestID(r, body.RequestID),
		})
		respond(w, result, err)
	})

	mux.HandleFunc("POST /v1/orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason    string `json:"reason"`
			RequestID string `json:"requestId"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, domerrors.Newf(domerrors.CodeInvalidParam, "invalid request body: %v", err))
				return
			}
		}
		result, err := cancels.Cancel(r.Context(), &service.CancelRequest{
			OrderID:   r.PathValue("id"),
			Token:     bearerToken(r),
			Reason:    body.Reason,
			RequestID: requestID(r, body.RequestID),
		})
		respond(w, result, err)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: tracing.HTTPMiddleware(mux),
	}

	go func() {
		log.Infof("HTTP server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	shutdownTracing(shutdownCtx)
	log.Info("shutdown complete")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// requestID 取调用方显式给的请求 ID，缺失时生成一个。
// 生成的 ID 只保证本次提交内稳定，重试去重要求调用方自带 ID。
func requestID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func respond(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if derr, ok := domerrors.AsError(err); ok {
		w.WriteHeader(derr.HTTPStatus())
		json.NewEncoder(w).Encode(derr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    domerrors.CodeInternal,
		"message": "internal error",
	})
}
