// Package api exposes the extraction and analysis pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/lab-analysis-server/internal/analysis"
	"github.com/lab-analysis-server/internal/domain"
	"github.com/lab-analysis-server/internal/extraction"
	"github.com/lab-analysis-server/internal/middleware"
	"github.com/lab-analysis-server/pkg/providers"
)

// recentReportLimit bounds how many extracted reports stay addressable for a
// follow-up analysis request.
const recentReportLimit = 512

// BreakerStatus reports one provider circuit state for the health endpoint.
type BreakerStatus interface {
	Name() string
	State() gobreaker.State
}

// reportEntry keeps an extraction together with the raw document it came
// from, so the analysis request can forward both to the providers.
type reportEntry struct {
	extraction   *domain.LabExtractionResult
	documentText string
	patient      domain.PatientContext
}

// Server represents the HTTP server
type Server struct {
	log          *logrus.Logger
	config       *domain.Config
	extractor    *extraction.Service
	orchestrator *analysis.Orchestrator
	store        domain.ResultStore
	breakers     []BreakerStatus
	cache        *providers.ResultCache
	reports      *lru.Cache[string, *reportEntry]
	router       *gin.Engine
	server       *http.Server
}

// NewServer creates a new HTTP server instance. store, breakers and cache are
// optional; absent components are simply omitted from the health report.
func NewServer(
	logger *logrus.Logger,
	cfg *domain.Config,
	extractor *extraction.Service,
	orchestrator *analysis.Orchestrator,
	store domain.ResultStore,
	breakers []BreakerStatus,
	cache *providers.ResultCache,
) (*Server, error) {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	reports, err := lru.New[string, *reportEntry](recentReportLimit)
	if err != nil {
		return nil, fmt.Errorf("creating report cache: %w", err)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(corsMiddleware())

	server := &Server{
		log:          logger,
		config:       cfg,
		extractor:    extractor,
		orchestrator: orchestrator,
		store:        store,
		breakers:     breakers,
		cache:        cache,
		reports:      reports,
		router:       router,
	}

	// Setup routes
	server.setupRoutes()

	return server, nil
}

// Start starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the configured handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/reports", s.handleSubmitReport)
		v1.POST("/reports/:id/analysis", s.handleAnalyzeReport)
		v1.GET("/analysis/:id", s.handleGetAnalysis)
	}
}

// handleHealth reports overall service health including each provider's
// circuit state and cache reachability.
func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	}

	if len(s.breakers) > 0 {
		states := make(map[string]string, len(s.breakers))
		for _, b := range s.breakers {
			states[b.Name()] = b.State().String()
		}
		health["providers"] = states
	}

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.cache.Ping(ctx); err != nil {
			health["cache"] = "unreachable"
			health["status"] = "degraded"
		} else {
			health["cache"] = "ok"
		}
	}

	c.JSON(http.StatusOK, health)
}

// submitReportRequest is the body for report submission.
type submitReportRequest struct {
	Text    string                `json:"text" binding:"required"`
	Patient domain.PatientContext `json:"patient"`
}

// handleSubmitReport runs structured extraction over raw report text.
func (s *Server) handleSubmitReport(c *gin.Context) {
	var req submitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text field is required"})
		return
	}

	result := s.extractor.Extract(req.Text)

	s.reports.Add(result.ID, &reportEntry{
		extraction:   result,
		documentText: req.Text,
		patient:      req.Patient,
	})

	if s.store != nil {
		if err := s.store.SaveExtraction(c.Request.Context(), result); err != nil {
			// Extraction already succeeded; persistence failure is reported
			// in logs but does not fail the request.
			s.log.WithError(err).Error("Failed to persist extraction result")
		}
	}

	c.JSON(http.StatusCreated, result)
}

// analyzeReportRequest optionally overrides the patient context captured at
// submission time.
type analyzeReportRequest struct {
	Patient *domain.PatientContext `json:"patient"`
}

// handleAnalyzeReport coordinates the multi-provider analysis for a
// previously submitted report.
func (s *Server) handleAnalyzeReport(c *gin.Context) {
	id := c.Param("id")
	entry, ok := s.reports.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("report %s not found", id)})
		return
	}

	var req analyzeReportRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analysis request body"})
		return
	}

	patient := entry.patient
	if req.Patient != nil {
		patient = *req.Patient
	}

	result, err := s.orchestrator.Analyze(c.Request.Context(), &analysis.AnalyzeParams{
		Extraction:   entry.extraction,
		Patient:      patient,
		DocumentText: entry.documentText,
	})
	if err != nil {
		s.writeAnalysisError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleGetAnalysis returns the tracked state of one analysis request.
func (s *Server) handleGetAnalysis(c *gin.Context) {
	id := c.Param("id")
	task, ok := s.orchestrator.Task(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("analysis %s not found", id)})
		return
	}

	resp := gin.H{
		"id":         task.ID,
		"state":      task.State,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	if task.Error != "" {
		resp["error"] = task.Error
	}
	if task.Result != nil {
		resp["result"] = task.Result
	}

	c.JSON(http.StatusOK, resp)
}

// writeAnalysisError maps pipeline errors onto HTTP status codes.
func (s *Server) writeAnalysisError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
		return
	}

	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		status := http.StatusBadGateway
		if providerErr.Timeout {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": providerErr.Error()})
		return
	}

	s.log.WithError(err).Error("Analysis request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
