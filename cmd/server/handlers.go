package main

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/context"
	"github.com/yourorg/payment-gateway/internal/monitor"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
)

type server struct {
	service        *orchestrator.Service
	paymentMonitor *monitor.ContractMonitor
	refundMonitor  *monitor.ContractMonitor
	gatherer       prometheus.Gatherer
	breakerStatus  func() map[string]string
	logger         *zap.Logger
}

func newServer(service *orchestrator.Service, gatherer prometheus.Gatherer, breakerStatus func() map[string]string, logger *zap.Logger) (*server, error) {
	pm, err := monitor.NewPaymentMonitor()
	if err != nil {
		return nil, err
	}
	rm, err := monitor.NewRefundMonitor()
	if err != nil {
		return nil, err
	}
	if breakerStatus == nil {
		breakerStatus = func() map[string]string { return nil }
	}
	return &server{
		service:        service,
		paymentMonitor: pm,
		refundMonitor:  rm,
		gatherer:       gatherer,
		breakerStatus:  breakerStatus,
		logger:         logger,
	}, nil
}

func (s *server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	group := router.Group("/paymentGateway")
	group.POST("/processPayment", s.processPayment)
	group.PATCH("/processRefund", s.processRefund)
	group.GET("/test", s.testEndpoint)
	return router
}

func (s *server) processPayment(c *gin.Context) {
	var req adapter.PaymentRequest
	if !s.bind(c, s.paymentMonitor, &req) {
		return
	}
	out := s.service.ProcessPayment(c.Request.Context(), invocation(c), req)
	c.JSON(out.HTTPStatus, gin.H{"detail": out.Body})
}

func (s *server) processRefund(c *gin.Context) {
	var req adapter.RefundRequest
	if !s.bind(c, s.refundMonitor, &req) {
		return
	}
	out := s.service.ProcessRefund(c.Request.Context(), invocation(c), req)
	c.JSON(out.HTTPStatus, gin.H{"detail": out.Body})
}

// bind validates the raw body against the contract before decoding it into dst.
// It writes a 422 response and returns false when the body is unusable.
func (s *server) bind(c *gin.Context, cm *monitor.ContractMonitor, dst any) bool {
	body, err := c.GetRawData()
	if err != nil {
		s.unprocessable(c, []string{"request body could not be read"})
		return false
	}
	valid, violations, err := cm.Validate(body)
	if err != nil {
		s.unprocessable(c, []string{"request body is not valid JSON"})
		return false
	}
	if !valid {
		s.unprocessable(c, violations)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.unprocessable(c, []string{err.Error()})
		return false
	}
	return true
}

func (s *server) unprocessable(c *gin.Context, violations []string) {
	s.logger.Info("Rejected request body",
		zap.String("path", c.FullPath()),
		zap.String("violations", monitor.FormatErrors(violations)),
	)
	c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": violations})
}

func (s *server) testEndpoint(c *gin.Context) {
	c.JSON(http.StatusOK, "Test endpoint successfully reached.  Client IP: "+c.ClientIP())
}

func (s *server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "service": serviceName}
	if breakers := s.breakerStatus(); len(breakers) > 0 {
		resp["breakers"] = breakers
	}
	c.JSON(http.StatusOK, resp)
}

func invocation(c *gin.Context) orchestrator.Invocation {
	return orchestrator.Invocation{
		RequestURI: c.Request.RequestURI,
		Method:     c.Request.Method,
		MetaHeader: c.GetHeader(context.RequestMetaHeader),
	}
}
