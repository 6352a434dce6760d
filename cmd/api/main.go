package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/analytics"
	"classtrack/internal/auth"
	"classtrack/internal/config"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/ledger"
	"classtrack/internal/notify"
	"classtrack/internal/queue"
	"classtrack/internal/scan"
	"classtrack/internal/session"
	"classtrack/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:events")
	}
	publisher := notify.NewQueuePublisher(q)

	sessionRepo := session.NewRepository(db.Client)
	tokenCache := session.NewTokenCache(redisClient.Client)
	sessions := session.NewManager(sessionRepo, tokenCache, cfg.TokenValidity, time.Now)

	ledgerRepo := ledger.NewRepository(db.Client)
	led := ledger.New(ledgerRepo)

	scanner := scan.NewService(sessionRepo, led, publisher, scan.Policy{
		Grace:          cfg.LatenessGrace,
		DefaultRadiusM: cfg.GeofenceRadiusM,
	}, time.Now)

	aggregator := analytics.NewAggregator(led, sessionRepo)
	classifier := analytics.NewClassifier(cfg.RiskThresholdHigh, cfg.RiskThresholdMed)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Role   string `json:"role" binding:"required,oneof=student lecturer admin"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.UserID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	lecturer := authed.Group("", auth.RequireRole(auth.RoleLecturer))

	lecturer.POST("/sessions/start", func(c *gin.Context) {
		var req struct {
			ClassID        string     `json:"class_id" binding:"required"`
			ScheduledStart *time.Time `json:"scheduled_start"`
			ScheduledEnd   *time.Time `json:"scheduled_end"`
			LocationLat    *float64   `json:"location_lat"`
			LocationLng    *float64   `json:"location_lng"`
			RadiusMeters   *float64   `json:"radius_m"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in := session.StartInput{
			ClassID:      req.ClassID,
			LecturerID:   auth.FromContext(c).Subject,
			LocationLat:  req.LocationLat,
			LocationLng:  req.LocationLng,
			RadiusMeters: req.RadiusMeters,
		}
		if req.ScheduledStart != nil {
			in.ScheduledStart = *req.ScheduledStart
		}
		if req.ScheduledEnd != nil {
			in.ScheduledEnd = *req.ScheduledEnd
		}
		s, err := sessions.Start(c.Request.Context(), in)
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sessionJSON(s))
	})

	lecturer.POST("/sessions/:id/rotate", func(c *gin.Context) {
		s, err := sessions.Rotate(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":         s.CurrentToken,
			"expires_at":    s.TokenExpiresAt,
			"token_version": s.TokenVersion,
		})
	})

	lecturer.GET("/sessions/:id/token", func(c *gin.Context) {
		token, expiresAt, err := sessions.CurrentToken(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt})
	})

	lecturer.POST("/sessions/:id/end", func(c *gin.Context) {
		var req struct {
			Outcome string `json:"outcome" binding:"required,oneof=completed cancelled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := sessions.End(c.Request.Context(), c.Param("id"), session.Status(req.Outcome))
		if err != nil {
			writeSessionError(c, err)
			return
		}
		if s.Status == session.StatusCompleted {
			// The worker marks enrolled students without a record absent.
			if err := publisher.Publish(c.Request.Context(), notify.Event{
				Type:      notify.TypeSessionCompleted,
				SessionID: s.ID,
				ClassID:   s.ClassID,
				At:        time.Now().UTC(),
			}); err != nil {
				log.Printf("publish session_completed for %s failed: %v", s.ID, err)
			}
		}
		c.JSON(http.StatusOK, sessionJSON(s))
	})

	lecturer.GET("/sessions/:id/records", func(c *gin.Context) {
		records, err := led.RecordsForSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		out := make([]gin.H, 0, len(records))
		for _, rec := range records {
			out = append(out, recordJSON(rec))
		}
		c.JSON(http.StatusOK, gin.H{"records": out})
	})

	authed.POST("/sessions/:id/scan", auth.RequireRole(auth.RoleStudent), func(c *gin.Context) {
		var req struct {
			Token             string   `json:"token" binding:"required"`
			Latitude          *float64 `json:"latitude"`
			Longitude         *float64 `json:"longitude"`
			DeviceFingerprint string   `json:"device_fingerprint"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := scanner.Scan(c.Request.Context(), scan.Input{
			StudentID:         auth.FromContext(c).Subject,
			SessionID:         c.Param("id"),
			Token:             req.Token,
			Latitude:          req.Latitude,
			Longitude:         req.Longitude,
			DeviceFingerprint: req.DeviceFingerprint,
		})
		if err != nil {
			writeSessionError(c, err)
			return
		}
		writeScanResult(c, res)
	})

	authed.GET("/students/:id/attendance-summary", func(c *gin.Context) {
		studentID := c.Param("id")
		if !canViewStudent(c, studentID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot view another student"})
			return
		}
		classID := c.Query("class_id")
		if classID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
			return
		}
		sum, err := aggregator.Summarize(c.Request.Context(), studentID, classID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	authed.GET("/students/:id/risk", func(c *gin.Context) {
		studentID := c.Param("id")
		if !canViewStudent(c, studentID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot view another student"})
			return
		}
		classID := c.Query("class_id")
		if classID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
			return
		}
		sum, err := aggregator.Summarize(c.Request.Context(), studentID, classID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		remaining, err := aggregator.Remaining(c.Request.Context(), classID, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
		flag := classifier.Classify(sum, cfg.TargetAttendancePc, remaining)
		if flag == nil {
			c.JSON(http.StatusOK, gin.H{"risk": nil, "reason": "no sessions held yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"risk": flag})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// canViewStudent allows lecturers and admins to view anyone, students only themselves.
func canViewStudent(c *gin.Context, studentID string) bool {
	claims := auth.FromContext(c)
	if claims.Role == auth.RoleStudent {
		return claims.Subject == studentID
	}
	return true
}

// writeSessionError maps session lifecycle errors onto HTTP statuses.
func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"kind": "already_active", "error": "a session is already running for this class"})
	case errors.Is(err, session.ErrSessionNotActive):
		c.JSON(http.StatusConflict, gin.H{"kind": "session_not_active", "error": "session is not active"})
	case errors.Is(err, session.ErrTokenExpired):
		c.JSON(http.StatusConflict, gin.H{"kind": "token_expired", "error": "token expired, rotate to continue"})
	default:
		log.Printf("storage error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	}
}

// writeScanResult renders a scan decision. Rejections are business outcomes:
// the response carries the kind and a human-readable reason, not a 5xx.
func writeScanResult(c *gin.Context, res scan.Result) {
	switch {
	case res.Accepted:
		c.JSON(http.StatusCreated, gin.H{"accepted": true, "record": recordJSON(*res.Record)})
	case res.Kind == scan.KindDuplicateScan:
		c.JSON(http.StatusOK, gin.H{
			"accepted": false,
			"kind":     res.Kind,
			"reason":   res.Reason,
			"record":   recordJSON(*res.Prior),
		})
	default:
		body := gin.H{"accepted": false, "kind": res.Kind, "reason": res.Reason}
		if res.Record != nil {
			body["record"] = recordJSON(*res.Record)
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	}
}

func sessionJSON(s session.Session) gin.H {
	return gin.H{
		"id":               s.ID,
		"class_id":         s.ClassID,
		"lecturer_id":      s.LecturerID,
		"scheduled_start":  s.ScheduledStart,
		"scheduled_end":    s.ScheduledEnd,
		"status":           s.Status,
		"token":            s.CurrentToken,
		"token_expires_at": s.TokenExpiresAt,
		"token_version":    s.TokenVersion,
	}
}

func recordJSON(rec ledger.Record) gin.H {
	return gin.H{
		"student_id":   rec.StudentID,
		"session_id":   rec.SessionID,
		"status":       rec.Status,
		"checkin_time": rec.CheckinTime,
	}
}

// CORS middleware for browser requests.
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

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
