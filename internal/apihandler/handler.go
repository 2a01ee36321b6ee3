package apihandler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/mirage-discovery/internal/config"
	"github.com/hewenyu/mirage-discovery/internal/core/errs"
	"github.com/hewenyu/mirage-discovery/internal/core/model"
	"github.com/hewenyu/mirage-discovery/internal/discovery"
)

// Handler 处理服务发现相关的HTTP请求
type Handler struct {
	service discovery.Service
	health  *discovery.HealthChecker
	logger  config.Logger
}

// NewHandler 创建一个新的服务发现处理器
func NewHandler(service discovery.Service, health *discovery.HealthChecker, logger config.Logger) *Handler {
	return &Handler{
		service: service,
		health:  health,
		logger:  logger,
	}
}

// RegisterRoutes 注册API路由
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// 注册中心自身的存活探测
	e.GET("/health", h.liveness)

	api := e.Group("/discovery")

	// 服务注册与注销
	api.POST("/services", h.registerService)
	api.DELETE("/services/:id", h.deregisterService)

	// 服务心跳
	api.PUT("/services/:id/heartbeat", h.heartbeat)

	// 服务查询
	api.GET("/services", h.getServices)
	api.GET("/services/:id", h.getService)
	api.POST("/services/query", h.queryServices)
	api.GET("/services/instances/:name", h.getServiceInstances)

	// 健康探测结果
	api.GET("/health", h.getHealth)
	api.GET("/health/:id", h.getServiceHealth)
}

// errorBody 错误响应体
type errorBody struct {
	Error string `json:"error"`
}

// writeError 将业务错误映射为HTTP响应
// Validation→400 NotFound→404 其余→500
func (h *Handler) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("请求处理失败",
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}

// liveness 注册中心进程自身的健康检查
func (h *Handler) liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mirage-discovery",
	})
}

// registerService 处理服务注册请求
func (h *Handler) registerService(c echo.Context) error {
	req := new(model.ServiceRegistrationRequest)
	if err := c.Bind(req); err != nil {
		return h.writeError(c, errs.NewValidationError("无效的请求参数: "+err.Error()))
	}

	instance, err := h.service.Register(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, instance)
}

// deregisterService 处理服务注销请求，幂等操作
func (h *Handler) deregisterService(c echo.Context) error {
	if err := h.service.Deregister(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// heartbeat 处理服务心跳请求
func (h *Handler) heartbeat(c echo.Context) error {
	req := new(model.ServiceHeartbeatRequest)
	if err := c.Bind(req); err != nil {
		return h.writeError(c, errs.NewValidationError("无效的请求参数: "+err.Error()))
	}

	instance, err := h.service.Heartbeat(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, instance)
}

// getService 按ID获取服务实例
func (h *Handler) getService(c echo.Context) error {
	instance, err := h.service.GetService(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, instance)
}

// getServices 获取所有服务实例
func (h *Handler) getServices(c echo.Context) error {
	registry, err := h.service.GetAllServices(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, registry)
}

// queryServices 按条件查询服务实例，零匹配返回空集合
func (h *Handler) queryServices(c echo.Context) error {
	query := new(model.ServiceQuery)
	if err := c.Bind(query); err != nil {
		return h.writeError(c, errs.NewValidationError("无效的查询条件: "+err.Error()))
	}

	registry, err := h.service.QueryServices(c.Request().Context(), query)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, registry)
}

// getServiceInstances 获取指定名称的全部服务实例
func (h *Handler) getServiceInstances(c echo.Context) error {
	instances, err := h.service.GetInstances(c.Request().Context(), c.Param("name"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, instances)
}

// getServiceHealth 获取单个实例的健康探测结果
func (h *Handler) getServiceHealth(c echo.Context) error {
	id := c.Param("id")
	result, ok := h.health.GetServiceHealth(id)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "实例尚无健康检查记录: " + id})
	}
	return c.JSON(http.StatusOK, result)
}

// healthOverview 健康状态总览响应
type healthOverview struct {
	Summary   *model.HealthSummary       `json:"summary"`
	Timestamp time.Time                  `json:"timestamp"`
	Services  []*model.HealthCheckResult `json:"services"`
}

// getHealth 获取全部实例的健康状态总览
func (h *Handler) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthOverview{
		Summary:   h.health.Summary(),
		Timestamp: time.Now(),
		Services:  h.health.GetHealthResults(),
	})
}
