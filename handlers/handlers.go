package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "reportpilot/docs" // Swagger docs
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/telemetry"
)

// @title           ReportPilot API
// @version         1.0
// @description     Conversational reporting: ask for data in plain language, refine it turn by turn and get chart specs bound to the result rows.

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@swagger.io

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:9090
// @BasePath  /

// @schemes   http https

// Core is the orchestration surface the API exposes.
type Core interface {
	RunInteraction(ctx context.Context, sessionID, query string) (*models.InteractionResult, error)
	EndSession(ctx context.Context, sessionID string) error
	CreateSession(title string) (*models.Session, error)
	ListSessions() ([]*models.Session, error)
	GetSession(sessionID string) (*models.SessionDetail, error)
	Rows(ctx context.Context, sessionID string, seq int) (*models.Interaction, *models.TabularResult, error)
	RenderChart(ctx context.Context, sessionID string, seq int) (*models.RenderedChart, error)
	UpdateSummary(ctx context.Context, sessionID string, seq int, summary string) (*models.Interaction, error)
	Sources() []models.SourceInfo
}

type Handlers struct {
	core Core
	// interactionTimeout bounds one RunInteraction call.
	interactionTimeout time.Duration
}

func New(core Core, interactionTimeout time.Duration) *Handlers {
	if interactionTimeout <= 0 {
		interactionTimeout = 5 * time.Minute
	}
	return &Handlers{core: core, interactionTimeout: interactionTimeout}
}

// Router builds the gin engine with every route registered.
func (h *Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// any origin, echoed back so credentials keep working
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"},
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	r.GET("/health", h.HealthHandler)

	api := r.Group("/api")
	api.GET("/sources", h.ListSourcesHandler)
	api.POST("/sessions", h.CreateSessionHandler)
	api.GET("/sessions", h.ListSessionsHandler)
	api.GET("/sessions/:id", h.GetSessionHandler)
	api.DELETE("/sessions/:id", h.DeleteSessionHandler)
	api.POST("/sessions/:id/interactions", h.RunInteractionHandler)
	api.GET("/sessions/:id/interactions/:seq/chart", h.ChartHandler)
	api.GET("/sessions/:id/interactions/:seq/rows", h.RowsHandler)
	api.PATCH("/sessions/:id/interactions/:seq/summary", h.UpdateSummaryHandler)
	return r
}

// statusFor maps a fault kind to the HTTP status returned for it.
func statusFor(err error) int {
	switch faults.KindOf(err) {
	case faults.PlanInvalid:
		return http.StatusUnprocessableEntity
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Timeout:
		return http.StatusGatewayTimeout
	case faults.Source:
		return http.StatusBadGateway
	case faults.Inference:
		return http.StatusServiceUnavailable
	case faults.SchemaConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var fe *faults.Error
	if errors.As(err, &fe) {
		body["kind"] = fe.Kind
	}
	if status >= http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}
