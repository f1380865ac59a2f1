package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"marksportal/internal/auth"
	"marksportal/internal/config"
	"marksportal/internal/gate"
	"marksportal/internal/httpmiddleware"
	"marksportal/internal/ingest"
	"marksportal/internal/marks"
	"marksportal/internal/notice"
	"marksportal/internal/queue"
	"marksportal/internal/records"
	"marksportal/internal/store"
)

type server struct {
	cfg     config.App
	log     *logrus.Logger
	store   store.Gateway
	gate    *gate.Gate
	ingest  *ingest.Engine
	notices *notice.Service
	marks   *marks.Service
	auth    auth.Verifier
}

func main() {
	cfg := config.Load()

	log := logrus.New()
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("api server failed: %v", err)
	}
}

func run(cfg config.App, log *logrus.Logger) error {
	ctx := context.Background()

	var gw store.Gateway
	if cfg.StoreBackend == "memory" {
		gw = store.NewMemory()
		log.Warn("using in-memory store, data will not survive restarts")
	} else {
		fs, err := store.NewFirestore(ctx, cfg.FirestoreProjectID, cfg.FirebaseCredentials)
		if err != nil {
			return err
		}
		gw = fs
	}
	defer gw.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "marksportal:purgelogs")
	}

	var verifier auth.Verifier
	if cfg.AuthSkipVerify {
		verifier = auth.StaticVerifier{}
		log.Warn("identity token verification disabled")
	} else {
		v, err := auth.NewFirebaseVerifier(ctx, cfg.FirestoreProjectID, cfg.FirebaseCredentials)
		if err != nil {
			return err
		}
		verifier = v
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithField("timezone", cfg.Timezone).Warn("unknown timezone, using UTC")
		loc = time.UTC
	}

	accessGate := gate.New(gw, cfg.BootstrapAdminUID, logrus.NewEntry(log))
	s := &server{
		cfg:     cfg,
		log:     log,
		store:   gw,
		gate:    accessGate,
		ingest:  ingest.NewEngine(gw, cfg.IngestChunkSize, logrus.NewEntry(log)),
		notices: notice.NewService(gw, q, loc, cfg.NoticeMaxAge, cfg.PurgeChunkSize, logrus.NewEntry(log)),
		marks:   marks.NewService(gw, accessGate, logrus.NewEntry(log)),
		auth:    verifier,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.RateLimit(redisClient.Client, cfg.RateLimitPerMin))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy && cfg.QueueBackend != "memory" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy})
	})

	r.POST("/v1/auth/login", s.handleLogin)

	key, issuer := cfg.JWTSigningKey, cfg.JWTIssuer

	anyRole := r.Group("/v1", auth.RequireRoles(key, issuer))
	anyRole.GET("/notices/ticker", s.handleTicker)

	admin := r.Group("/v1/admin", auth.RequireRoles(key, issuer, records.RoleAdmin))
	admin.POST("/records/:entity", s.handleRecordSave)
	admin.POST("/records/:entity/csv", s.handleCSVUpload)
	admin.GET("/overview", s.handleOverview)
	admin.POST("/roles", s.handleRoleAssign)
	admin.POST("/notices", s.handleNoticeCreate)
	admin.GET("/notices", s.handleNoticeList)
	admin.GET("/maintenance/summary", s.handlePurgeSummary)
	admin.POST("/maintenance/purge", s.handlePurge)
	admin.GET("/maintenance/logs", s.handlePurgeLogs)

	faculty := r.Group("/v1/faculty", auth.RequireRoles(key, issuer, records.RoleFaculty, records.RoleAdmin))
	faculty.GET("/subjects", s.handleAssignedSubjects)
	faculty.GET("/roster", s.handleRoster)
	faculty.GET("/grid", s.handleGridMarks)
	faculty.POST("/marks", s.handleGridSave)

	student := r.Group("/v1/student", auth.RequireRoles(key, issuer, records.RoleStudent, records.RoleAdmin))
	student.GET("/profile", s.handleStudentProfile)
	student.GET("/marks", s.handleStudentMarks)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("forced shutdown: %v", err)
	}
	return nil
}

func (s *server) handleLogin(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal, err := s.auth.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity verification failed"})
		return
	}

	role, err := s.gate.Resolve(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no role assigned"})
		return
	}

	tokens, err := auth.Issue(principal.UID, role, principal.Email, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"role":          role,
	})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
