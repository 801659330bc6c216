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

	"fitpass/internal/attendance"
	"fitpass/internal/auth"
	"fitpass/internal/config"
	"fitpass/internal/enrollment"
	"fitpass/internal/httpmiddleware"
	"fitpass/internal/metrics"
	"fitpass/internal/presence"
	"fitpass/internal/qrtoken"
	"fitpass/internal/queue"
	"fitpass/internal/replay"
	"fitpass/internal/rollup"
	"fitpass/internal/session"
	"fitpass/internal/store"
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
		if db == nil {
			return err
		}
		log.Printf("warning: db not ready: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var guard replay.Guard
	if cfg.ReplayBackend == "redis" {
		guard = replay.NewRedis(redisClient.Client)
	} else {
		guard = replay.NewMemory()
	}

	var jobs queue.Queue
	if cfg.QueueBackend == "redis" {
		jobs = queue.NewRedisQueue(redisClient.Client, store.CheckInQueueKey)
	} else {
		jobs = queue.NewInMemory(64)
	}

	codec := qrtoken.NewCodec(cfg.QRSecret, cfg.QRTokenTTL)
	sessions := session.NewRepository(db.Client)
	enrollments := enrollment.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)
	rollups := rollup.NewRepository(db.Client)
	hub := presence.NewHub()

	consumeCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	// The in-memory queue lives and dies with this process, so it needs an
	// in-process consumer; in redis mode the worker binary drains it instead.
	if cfg.QueueBackend != "redis" {
		go func() {
			if err := rollup.Run(consumeCtx, jobs, rollups); err != nil {
				log.Printf("rollup consumer stopped: %v", err)
			}
		}()
	}

	att := attendance.NewService(codec, guard, sessions, enrollments, ledger, hub, jobs, cfg.NonceTTL)

	// Snapshot pull for the live dashboard reads straight from the ledger.
	snapshot := func(ctx context.Context, sessionID string) (any, error) {
		return ledger.ListBySession(ctx, sessionID)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.GET("/v1/ws", gin.WrapF(presence.Handler(hub, snapshot, cfg.JWTSigningKey, cfg.JWTIssuer)))

	authed := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.POST("/sessions", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin), func(c *gin.Context) {
		var req struct {
			ClassID   string    `json:"classId" binding:"required"`
			StartTime time.Time `json:"startTime" binding:"required"`
			EndTime   time.Time `json:"endTime" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.Create(c.Request.Context(), req.ClassID, req.StartTime, req.EndTime)
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": sess})
	})

	authed.GET("/sessions", func(c *gin.Context) {
		list, err := sessions.List(c.Request.Context(), c.Query("classId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	authed.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := sessions.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	// Teacher starts the session: status goes ACTIVE and a fresh QR token is
	// returned for display.
	authed.POST("/sessions/:id/start", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		sess, err := sessions.Start(c.Request.Context(), c.Param("id"), claims.UserID, claims.IsAdmin())
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}

		qr, err := codec.Issue(sess.ID)
		if err != nil {
			log.Printf("qr issue failed for session %s: %v", sess.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue qr token"})
			return
		}
		metrics.SessionsStarted.Inc()
		log.Printf("session %s started by %s", sess.ID, claims.FullName)

		c.JSON(http.StatusOK, gin.H{
			"message":   "session started",
			"sessionId": sess.ID,
			"qr":        qr,
			"expiresIn": int(codec.TTL().Seconds()),
			"class": gin.H{
				"name":    sess.ClassName,
				"teacher": sess.TeacherName,
			},
		})
	})

	// Rotating QR for the auto-refresh flow: every response carries a fresh
	// single-use token with a short expiry.
	authed.POST("/sessions/:id/qr", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		sess, err := sessions.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		if !claims.IsAdmin() && sess.TeacherID != claims.UserID {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this session"})
			return
		}
		if !session.CheckInEligible(sess) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session is not active"})
			return
		}

		qr, err := codec.IssueSingleUse(sess.ID, cfg.QRRefreshTTL)
		if err != nil {
			log.Printf("qr refresh failed for session %s: %v", sess.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue qr token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId": sess.ID,
			"qr":        qr,
			"expiresIn": int(cfg.QRRefreshTTL.Seconds()),
		})
	})

	authed.PATCH("/sessions/:id", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin), func(c *gin.Context) {
		var req struct {
			Status session.Status `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		sess, err := sessions.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		if !claims.IsAdmin() && sess.TeacherID != claims.UserID {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this session"})
			return
		}
		updated, err := sessions.UpdateStatus(c.Request.Context(), sess.ID, req.Status)
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": updated})
	})

	authed.DELETE("/sessions/:id", auth.RequireRoles(auth.RoleAdmin), func(c *gin.Context) {
		if err := sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
	})

	// Canonical check-in: scanned token in the request body.
	authed.POST("/attendance/qr-checkin", func(c *gin.Context) {
		var req struct {
			QRToken string `json:"qrToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "qrToken is required"})
			return
		}
		handleCheckIn(c, att, req.QRToken)
	})

	// Legacy check-in link: the QR encodes a GET URL with a base64 payload.
	authed.GET("/attendance/checkin", func(c *gin.Context) {
		payload := c.Query("payload")
		if payload == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
			return
		}
		handleCheckIn(c, att, payload)
	})

	authed.GET("/attendance", func(c *gin.Context) {
		ctx := c.Request.Context()
		var (
			list []attendance.Record
			err  error
		)
		switch {
		case c.Query("sessionId") != "":
			list, err = ledger.ListBySession(ctx, c.Query("sessionId"))
		case c.Query("classId") != "":
			list, err = ledger.ListByClass(ctx, c.Query("classId"))
		case c.Query("studentId") != "":
			list, err = ledger.ListByStudent(ctx, c.Query("studentId"))
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId, classId or studentId is required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attendance"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendances": list})
	})

	authed.PATCH("/attendance", auth.RequireRoles(auth.RoleAdmin), func(c *gin.Context) {
		var req struct {
			SessionID string `json:"sessionId" binding:"required"`
			StudentID string `json:"studentId" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		correctAttendance(c, func(ctx context.Context) (attendance.Record, error) {
			return ledger.Correct(ctx, req.SessionID, req.StudentID, req.Status)
		}, req.Status)
	})

	authed.PATCH("/attendance/:id", auth.RequireRoles(auth.RoleAdmin), func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id := c.Param("id")
		correctAttendance(c, func(ctx context.Context) (attendance.Record, error) {
			return ledger.CorrectByID(ctx, id, req.Status)
		}, req.Status)
	})

	authed.GET("/classes/:id/roster", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin), func(c *gin.Context) {
		roster, err := enrollments.ListByClass(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list roster"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enrollments": roster})
	})

	authed.GET("/classes/:id/rollup", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin), func(c *gin.Context) {
		ru, err := rollups.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rollup"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rollup": ru})
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
	stopConsumers()

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// handleCheckIn runs the orchestrator and renders its outcome. Both check-in
// routes funnel through here so rejection mapping and metrics stay in one
// place.
func handleCheckIn(c *gin.Context, att *attendance.Service, token string) {
	claims, _ := auth.FromContext(c)

	result, err := att.CheckIn(c.Request.Context(), claims, token)
	if err != nil {
		var rej *attendance.Rejection
		if errors.As(err, &rej) {
			metrics.CheckIns.WithLabelValues(string(rej.Reason)).Inc()
			c.JSON(rej.HTTPStatus(), gin.H{"error": rej.Message, "reason": rej.Reason})
			return
		}
		log.Printf("check-in failed: %v", err)
		metrics.CheckIns.WithLabelValues("internal_error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "please try again"})
		return
	}

	metrics.CheckIns.WithLabelValues("success").Inc()
	log.Printf("qr check-in: student %s into session %s", result.StudentName, result.SessionID)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "check-in successful",
		"sessionId":   result.SessionID,
		"studentId":   result.StudentID,
		"studentName": result.StudentName,
		"class":       result.ClassName,
		"checkedInAt": result.CheckedInAt,
	})
}

func correctAttendance(c *gin.Context, do func(context.Context) (attendance.Record, error), status string) {
	if !attendance.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	rec, err := do(c.Request.Context())
	if err != nil {
		if errors.Is(err, attendance.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update attendance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance updated", "attendance": rec})
}

func sessionErrStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClassNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrInvalidStatus), errors.Is(err, session.ErrInvalidTimes),
		errors.Is(err, session.ErrPastStart), errors.Is(err, session.ErrHasAttendance),
		errors.Is(err, session.ErrTerminalStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
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
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
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
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
