// Package webserver is the HTTP adapter over voting.Service.
package webserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/voting"
)

// Options configure the router.
type Options struct {
	AllowedOrigins []string
	// VoteRateLimit uses the limiter format, e.g. "60-M". Empty disables it.
	VoteRateLimit string
	LedgerMode    string
	Gatherer      prometheus.Gatherer
	Log           *logrus.Entry
}

// New builds the gin engine with every route attached.
func New(svc *voting.Service, opts Options) (*gin.Engine, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	log := opts.Log.WithField("component", "http")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	if err := attachRoutes(r, svc, opts, log); err != nil {
		return nil, err
	}
	return r, nil
}

func attachRoutes(r *gin.Engine, svc *voting.Service, opts Options, log *logrus.Entry) error {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	voteLimit, err := RateLimitMiddleware(opts.VoteRateLimit)
	if err != nil {
		return err
	}

	propH := NewProposals(svc, log)
	voteH := NewVotes(svc, log)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ledger_mode": opts.LedgerMode})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	proposals := r.Group("/proposals")
	{
		proposals.POST("", propH.Create)
		proposals.GET("/:id", propH.Get)
		proposals.POST("/:id/finalize", propH.Finalize)
		proposals.POST("/:id/vote", voteLimit, voteH.Cast)
		proposals.GET("/:id/has-voted/:voter", voteH.HasVoted)
	}
	return nil
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

// writeError renders err with the status its code maps to.
func writeError(c *gin.Context, err error) {
	code := gov.CodeOf(err)
	msg := "internal error"
	var ge *gov.Error
	if errors.As(err, &ge) && ge.Msg != "" && code != gov.CodeInternal {
		msg = ge.Msg
	}
	c.JSON(gov.HTTPStatus(code), gin.H{"err": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"err": msg, "code": gov.CodeInvalidArgument})
}
