package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/resolve"
	"github.com/agenthands/partgraph/internal/graph"
	"github.com/agenthands/partgraph/internal/ingest"
)

// EvidenceCounter reports the size of the evidence corpus and signal log.
type EvidenceCounter interface {
	Counts(ctx context.Context) (records, signals int64, err error)
}

type Server struct {
	Resolver        *resolve.Resolver
	Ingestor        *ingest.Ingestor
	Graph           graph.Store
	Evidence        EvidenceCounter
	Logger          *zap.Logger
	DefaultMaxDepth int
	MaxBodyBytes    int64
}

func NewServer(resolver *resolve.Resolver, ingestor *ingest.Ingestor, store graph.Store, evidence EvidenceCounter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Resolver:        resolver,
		Ingestor:        ingestor,
		Graph:           store,
		Evidence:        evidence,
		Logger:          logger,
		DefaultMaxDepth: resolve.DefaultDepth,
		MaxBodyBytes:    MaxBodyBytes,
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	lookup := r.Group("/lookup")
	lookup.GET("/part/:id", s.LookupPart)
	lookup.GET("/graph/replacements/:id", s.ReplacementChain)
	lookup.GET("/spec", s.SearchBySpec)

	in := r.Group("/ingest")
	in.POST("/evidence", s.ingestHandler(ingest.KindEvidence))
	in.POST("/signals", s.ingestHandler(ingest.KindSignal))
	in.POST("/relations", s.ingestHandler(ingest.KindRelation))
	r.POST("/enrich/:id", s.Enrich)

	admin := r.Group("/admin")
	admin.GET("/graph/stats", s.GraphStats)
	admin.DELETE("/graph", s.ClearGraph)

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) LookupPart(c *gin.Context) {
	result, err := s.Resolver.LookupPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ReplacementChain(c *gin.Context) {
	depth := s.DefaultMaxDepth
	if raw := c.Query("max_depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.renderError(c, apperr.Validation("max_depth must be an integer"))
			return
		}
		depth = n
	}
	chain, err := s.Resolver.ResolveChain(c.Request.Context(), c.Param("id"), depth)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (s *Server) SearchBySpec(c *gin.Context) {
	result, err := s.Resolver.FindBySpec(c.Request.Context(), c.Query("type"), c.Query("value"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MaxBodyBytes caps an ingest request body.
const MaxBodyBytes = 8 << 20

// ingestHandler accepts one event object or a JSON array of them. Arrays
// are ingested as a batch and always answer 200 with a per-event report;
// an item that cannot be decoded is reported in its own slot.
func (s *Server) ingestHandler(kind ingest.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := s.MaxBodyBytes
		if limit <= 0 {
			limit = MaxBodyBytes
		}
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"error":   apperr.CodeValidation,
					"message": fmt.Sprintf("request body exceeds %d bytes", limit),
				})
				return
			}
			s.renderError(c, apperr.Validation("unreadable request body"))
			return
		}
		if !gjson.ValidBytes(body) {
			s.renderError(c, apperr.Validation("request body is not valid JSON"))
			return
		}

		parsed := gjson.ParseBytes(body)
		if !parsed.IsArray() {
			ev, err := s.Ingestor.Decode(kind, body)
			if err != nil {
				s.renderError(c, err)
				return
			}
			res, err := s.Ingestor.Handle(c.Request.Context(), ev)
			if err != nil {
				s.renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, res)
			return
		}

		var events []ingest.Event
		decodeFailures := 0
		parsed.ForEach(func(_, item gjson.Result) bool {
			ev, err := s.Ingestor.Decode(kind, []byte(item.Raw))
			if err != nil {
				decodeFailures++
				ev = ingest.FailedEvent(kind, err)
			}
			events = append(events, ev)
			return true
		})
		report := s.Ingestor.IngestBatch(c.Request.Context(), events)
		s.Logger.Debug("batch request handled",
			zap.String("kind", string(kind)),
			zap.Int("events", len(events)),
			zap.Int("undecodable", decodeFailures))
		c.JSON(http.StatusOK, report)
	}
}

func (s *Server) Enrich(c *gin.Context) {
	report, err := s.Ingestor.Enrich(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type statsResponse struct {
	graph.Stats
	EvidenceRecords int64 `json:"evidence_records"`
	Signals         int64 `json:"signals"`
}

func (s *Server) GraphStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.Graph.Stats(ctx)
	if err != nil {
		s.renderError(c, err)
		return
	}
	resp := statsResponse{Stats: stats}
	if s.Evidence != nil {
		resp.EvidenceRecords, resp.Signals, err = s.Evidence.Counts(ctx)
		if err != nil {
			s.renderError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ClearGraph wipes the graph. It requires ?confirm=true; the evidence
// corpus is kept so the graph can be rebuilt by replay.
func (s *Server) ClearGraph(c *gin.Context) {
	if c.Query("confirm") != "true" {
		s.renderError(c, apperr.Validation("clearing the graph requires confirm=true"))
		return
	}
	if err := s.Graph.Clear(c.Request.Context()); err != nil {
		s.renderError(c, err)
		return
	}
	s.Logger.Warn("graph cleared", zap.String("remote", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) renderError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": apperr.MessageOf(err)})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
