// Package httpapi serves the operational HTTP surface: health, metrics and
// the external cron trigger.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/set-night/chanpay/internal/job"
	"github.com/set-night/chanpay/internal/service"
)

type Sweeper interface {
	RunOnce(ctx context.Context) (service.SweepReport, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Sweeper    Sweeper
	DB         Pinger
	CronSecret string
}

// NewRouter builds the gin engine. Without a cron secret the trigger is
// disabled.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", health(deps.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cron := r.Group("/cron", bearer(deps.CronSecret))
	{
		cron.GET("/check-subscriptions", checkSubscriptions(deps.Sweeper))
		cron.POST("/check-subscriptions", checkSubscriptions(deps.Sweeper))
	}
	return r
}

func health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func bearer(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "cron trigger disabled"})
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func checkSubscriptions(sweeper Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := sweeper.RunOnce(c.Request.Context())
		body := gin.H{
			"success":          err == nil,
			"kicked":           report.Expired,
			"remove_failed":    report.RemoveFailed,
			"final_warn":       report.FinalWarnings,
			"early_warn":       report.EarlyWarnings,
			"notify_failed":    report.NotifyFailed,
			"escrow_released":  report.EscrowReleased,
			"escrow_amount":    report.EscrowAmount,
			"escrow_failed":    report.EscrowFailed,
			"popular_cleared":  report.PopularCleared,
			"featured_cleared": report.FeatureCleared,
		}
		if err != nil {
			body["error"] = err.Error()
			status := http.StatusInternalServerError
			if errors.Is(err, job.ErrSweepSkipped) {
				status = http.StatusConflict
			}
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
