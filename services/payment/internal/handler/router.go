package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/vehicle-sales/pkg/metrics"
	"example.com/vehicle-sales/pkg/middleware"
	"example.com/vehicle-sales/services/payment/internal/service"
)

// HealthChecker — функция проверки зависимостей сервиса (БД, Redis).
type HealthChecker func(ctx context.Context) error

// Router — конфигурация роутера Payment Service.
type Router struct {
	engine         *gin.Engine
	paymentService service.PaymentService
	healthCheck    HealthChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	PaymentService service.PaymentService
	HealthCheck    HealthChecker
	Debug          bool
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(middleware.Tracing())
	engine.Use(otelgin.Middleware("payment"))
	engine.Use(metrics.GinMetricsMiddleware("payment"))

	r := &Router{
		engine:         engine,
		paymentService: cfg.PaymentService,
		healthCheck:    cfg.HealthCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheckHandler)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.healthCheckHandler)

	paymentHandler := NewPaymentHandler(r.paymentService)

	r.engine.GET("/payment-codes", paymentHandler.ListPaymentCodes)
	r.engine.GET("/payment-codes/:code", paymentHandler.GetPaymentCode)
	r.engine.GET("/payments", paymentHandler.ListPayments)
	r.engine.GET("/payments/:id", paymentHandler.GetPayment)
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheckHandler — 503, если БД или Redis недоступны.
func (r *Router) healthCheckHandler(c *gin.Context) {
	if r.healthCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.healthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "payment",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment"})
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
