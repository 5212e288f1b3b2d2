package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/database"
	"github.com/MarcoPoloResearchLab/matebook/internal/media"
	"github.com/MarcoPoloResearchLab/matebook/internal/records"
	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"github.com/MarcoPoloResearchLab/matebook/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	usernameContextKey = "matebook_username"
	userContextKey     = "matebook_user"
	apiPrefix          = "/api/v1"
	healthCheckTimeout = 2 * time.Second
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingStudentService = errors.New("students service dependency required")
	errMissingMediaResolver  = errors.New("media resolver dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the HTTP layer to its services.
type Dependencies struct {
	TokenManager    TokenManager
	UsersService    *users.Service
	StudentsService *students.Service
	Media           media.Resolver
	Database        Pinger
	Registry        *prometheus.Registry
	Logger          *zap.Logger
	AllowedOrigins  []string
	MediaRoute      string
	MediaDir        string
}

// NewHTTPHandler builds the gin router for the directory API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.StudentsService == nil {
		return nil, errMissingStudentService
	}
	if deps.Media == nil {
		return nil, errMissingMediaResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := newHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(metrics.middleware())
	router.Use(requestLogger(logger))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		users:    deps.UsersService,
		students: deps.StudentsService,
		media:    deps.Media,
		database: deps.Database,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	if deps.MediaRoute != "" && deps.MediaDir != "" {
		router.Static(deps.MediaRoute, deps.MediaDir)
	}

	api := router.Group(apiPrefix)
	api.POST("/auth/token", handler.handleToken)
	api.POST("/auth/signup", handler.handleSignup)
	api.GET("/students", handler.handleListStudents)
	api.GET("/students/:id", handler.handleGetStudent)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)
	protected.POST("/students", handler.handleCreateStudent)
	protected.PATCH("/students/:id", handler.handleUpdateStudent)
	protected.DELETE("/students/:id", handler.handleRemoveStudent)
	protected.PATCH("/students/by-name/:name", handler.handleUpdateStudentsByName)
	protected.DELETE("/students/by-name/:name", handler.handleRemoveStudentsByName)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	users    *users.Service
	students *students.Service
	media    media.Resolver
	database Pinger
	logger   *zap.Logger
}

// corsMiddleware allows every origin when none are configured. Credentials
// are only allowed for an explicit origin list.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// The token only names the account; it must still exist and be active.
	user, err := h.users.GetByUsername(c.Request.Context(), subject)
	if errors.Is(err, records.ErrNotFound) {
		h.logger.Warn("token subject not found", zap.String("username", subject))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	if !user.IsActive {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "inactive_user"})
		return
	}
	c.Set(usernameContextKey, subject)
	c.Set(userContextKey, user)
	c.Next()
}

type codedError interface {
	Code() string
}

// respondError maps the error taxonomy onto HTTP statuses. Driver text never
// reaches the body; unexpected failures only expose the error code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	code := ""
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	body := func(kind string) gin.H {
		if code == "" {
			return gin.H{"error": kind}
		}
		return gin.H{"error": kind, "code": code}
	}

	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, body("not_found"))
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, body("invalid_credentials"))
	case errors.Is(err, users.ErrInactiveUser):
		c.JSON(http.StatusBadRequest, body("inactive_user"))
	case errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, body("username_taken"))
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, body("email_taken"))
	case errors.Is(err, records.ErrConstraintViolation):
		c.JSON(http.StatusBadRequest, body("constraint_violation"))
	case errors.Is(err, records.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, body("invalid_input"))
	case errors.Is(err, records.ErrNoEligibleFields):
		c.JSON(http.StatusBadRequest, body("no_eligible_fields"))
	case errors.Is(err, media.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, body("avatar_too_large"))
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmptyUpload):
		c.JSON(http.StatusBadRequest, body("invalid_avatar"))
	case errors.Is(err, database.ErrConnect):
		h.logger.Error("database unavailable", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, body("database_unavailable"))
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, body("internal_error"))
	}
}
