package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/vehicle-sales/pkg/metrics"
	"example.com/vehicle-sales/pkg/middleware"
	"example.com/vehicle-sales/services/vehicle/internal/service"
)

// HealthChecker — функция проверки зависимостей сервиса (БД).
type HealthChecker func(ctx context.Context) error

// Router — конфигурация роутера Vehicle Service.
type Router struct {
	engine         *gin.Engine
	vehicleService service.VehicleService
	healthCheck    HealthChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	VehicleService service.VehicleService
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
	engine.Use(otelgin.Middleware("vehicle"))
	engine.Use(metrics.GinMetricsMiddleware("vehicle"))

	r := &Router{
		engine:         engine,
		vehicleService: cfg.VehicleService,
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

	vehicleHandler := NewVehicleHandler(r.vehicleService)

	r.engine.POST("/vehicles", vehicleHandler.CreateVehicle)
	r.engine.GET("/vehicles", vehicleHandler.ListVehicles)
	r.engine.GET("/vehicles/:id", vehicleHandler.GetVehicle)
	r.engine.PUT("/vehicles/:id", vehicleHandler.UpdateVehicle)
	r.engine.PATCH("/vehicles/:id/mark_as_sold", vehicleHandler.MarkAsSold)
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheckHandler — 503, если БД недоступна: без неё невозможны
// ни каталог, ни операции резервирования саги.
func (r *Router) healthCheckHandler(c *gin.Context) {
	if r.healthCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "vehicle"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.healthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "vehicle",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "vehicle"})
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
