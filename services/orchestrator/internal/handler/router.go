package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/vehicle-sales/pkg/metrics"
	"example.com/vehicle-sales/pkg/middleware"
	"example.com/vehicle-sales/services/orchestrator/internal/saga"
)

// HealthChecker — функция проверки зависимостей сервиса (БД).
type HealthChecker func(ctx context.Context) error

// Router — конфигурация роутера оркестратора.
type Router struct {
	engine       *gin.Engine
	orchestrator saga.Orchestrator
	healthCheck  HealthChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Orchestrator saga.Orchestrator
	HealthCheck  HealthChecker // опциональная проверка зависимостей для /health и /readyz
	Debug        bool          // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Стандартные middleware Gin
	engine.Use(gin.Recovery())

	// CORS — обработка cross-origin запросов
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	// Security headers — защита от clickjacking, MIME-sniffing, XSS
	engine.Use(middleware.SecurityHeaders())

	// Трассировка запросов: trace_id / correlation_id в контекст и логи
	engine.Use(middleware.Tracing())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("orchestrator"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("orchestrator"))

	r := &Router{
		engine:       engine,
		orchestrator: cfg.Orchestrator,
		healthCheck:  cfg.HealthCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints
	r.engine.GET("/health", r.healthCheckHandler)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.healthCheckHandler)

	purchaseHandler := NewPurchaseHandler(r.orchestrator)

	// === Purchase saga routes ===
	r.engine.POST("/purchase", purchaseHandler.Purchase)
	r.engine.POST("/purchase/:transaction_id/cancel", purchaseHandler.CancelPurchase)
	r.engine.GET("/saga-states", purchaseHandler.ListSagaStates)
	r.engine.GET("/saga-states/:transaction_id", purchaseHandler.GetSagaState)
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheckHandler — проверка работоспособности сервиса и его зависимостей.
// 503, если БД недоступна — сага не может персистить состояние.
func (r *Router) healthCheckHandler(c *gin.Context) {
	if r.healthCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orchestrator"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.healthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "orchestrator",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orchestrator"})
}

// livenessCheck — liveness probe для Kubernetes.
// Возвращает 200 OK если процесс жив (сервер отвечает = процесс работает).
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
