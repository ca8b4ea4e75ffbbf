package report

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"joboffers/internal/storage"
)

// Server exposes an Aggregator over HTTP.
type Server struct {
	agg *Aggregator
	log *zap.Logger
}

func NewServer(agg *Aggregator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{agg: agg, log: log.With(zap.String("component", "report_http"))}
}

// Router wires the endpoints:
//
//	GET /report   ?date_from=&date_to=&category=&location=&position=&experience=&operating_mode=
//	GET /options
//	GET /healthz
//
// List parameters may be repeated or comma-separated.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog)
	r.GET("/report", s.report)
	r.GET("/options", s.options)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("took", time.Since(start)),
	)
}

// FilterFromQuery reads a Filter from request query parameters.
func FilterFromQuery(c *gin.Context) storage.Filter {
	list := func(name string) []string {
		var out []string
		for _, v := range c.QueryArray(name) {
			out = append(out, SplitList(v)...)
		}
		return out
	}
	return storage.Filter{
		DateFrom:       c.Query("date_from"),
		DateTo:         c.Query("date_to"),
		Categories:     list("category"),
		Locations:      list("location"),
		Positions:      list("position"),
		Experiences:    list("experience"),
		OperatingModes: list("operating_mode"),
	}
}

func (s *Server) report(c *gin.Context) {
	f := FilterFromQuery(c)
	if err := f.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rep, err := s.agg.Snapshot(c.Request.Context(), f)
	if err != nil {
		s.log.Error("report failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) options(c *gin.Context) {
	opts, err := s.agg.FilterOptions(c.Request.Context())
	if err != nil {
		s.log.Error("filter options failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "filter options failed"})
		return
	}
	c.JSON(http.StatusOK, opts)
}
