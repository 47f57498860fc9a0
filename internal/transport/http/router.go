package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Gunvolt24/mq_reader/internal/batch"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/pkg/httpx"
)

// JobStatus — источник прогресса задачи (batch.ChunkRunner).
type JobStatus interface {
	Stats() batch.Stats
}

// Info — статическое описание запущенной задачи для /status.
type Info struct {
	Broker      string `json:"broker"`
	Destination string `json:"destination"`
	Selector    string `json:"selector,omitempty"`
	Sink        string `json:"sink"`
}

type statusResponse struct {
	Info
	Job batch.Stats `json:"job"`
}

type Handler struct {
	job  JobStatus
	info Info
	log  ports.Logger
}

func NewHandler(job JobStatus, info Info, log ports.Logger) *Handler {
	return &Handler{job: job, info: info, log: log}
}

// NewRouter — служебные эндпоинты процесса: /ping, /metrics, /status.
// otelServiceName пустой — без otelgin.
func NewRouter(h *Handler, otelServiceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if otelServiceName != "" {
		r.Use(otelgin.Middleware(otelServiceName))
	}
	r.Use(httpx.RequestIDMiddleware())
	r.Use(httpx.RequestLogger(h.log))

	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", h.getStatus)

	return r
}

// getStatus — 200 пока задача идёт или завершилась успешно, 503 после сбоя.
func (h *Handler) getStatus(c *gin.Context) {
	if h.job == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job is not configured"})
		return
	}

	resp := statusResponse{Info: h.info, Job: h.job.Stats()}
	code := http.StatusOK
	if resp.Job.State == batch.StateFailed {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
