package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/garyjia/hr-orchestrator/internal/config"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("RUNNING", "COMPLETED", "COMPLETE")
		m.RecordStep("WAIT", "ok", time.Millisecond)
		m.RecordDeadLetter("sync")
		m.RecordSweep(time.Second)
	})
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordTransition("RUNNING", "COMPLETED", "COMPLETE")
	m.RecordDeadLetter("sync.workflow_to_process")
	m.RecordDeadLetter("sync.workflow_to_process")
	m.RecordUnblocked(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTransitionsTotal.WithLabelValues("RUNNING", "COMPLETED", "COMPLETE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadLetterItemsTotal.WithLabelValues("sync.workflow_to_process")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TasksUnblockedTotal))
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/workflows/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", Handler(reg))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workflows/9", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/workflows/:id", "4xx")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hr_http_requests_total")
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "svc", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: true, OutputPath: path, SamplingRate: 1}, "svc", "test")
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "unit")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.FileExists(t, path)
}

func TestEndSpanRecordsError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "workflow.step", AttrStepID.String("approve"))
	EndSpan(span, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "workflow.step", spans[0].Name)
}
