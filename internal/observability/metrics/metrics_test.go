package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

func TestPipelineMetricsCountsOutcomesAndFailures(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	m := NewPipelineMetrics("api", httpMetrics.Registerer())

	m.ObserveStage(domain.StageRetrieving, 10*time.Millisecond)
	m.ObserveOutcome("blocking", "grounded", 3, time.Second)
	m.ObserveOutcome("stream", "fallback", 1, time.Second)
	m.ObserveFailure(domain.StageGenerating, domain.WrapError(domain.ErrGenerationTimeout, "generate", errors.New("slow")))
	m.ObservePersistenceFailure()
	m.RecordRetry("ollama.embed", 1, errors.New("503"))

	if got := testutil.ToFloat64(m.outcomeTotal.WithLabelValues("api", "blocking", "grounded")); got != 1 {
		t.Fatalf("expected 1 grounded outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.failureTotal.WithLabelValues("api", "GENERATING", "generation_timeout")); got != 1 {
		t.Fatalf("expected 1 generation timeout failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.persistFailedTotal); got != 1 {
		t.Fatalf("expected 1 persistence failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.retryTotal.WithLabelValues("api", "ollama.embed")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}

	rec := httptest.NewRecorder()
	httpMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "gdpp_rag_stage_duration_seconds") {
		t.Fatalf("expected pipeline metrics on the shared registry")
	}
}

func TestErrorKindLabels(t *testing.T) {
	cases := map[string]error{
		"none":                   nil,
		"canceled":               context.Canceled,
		"retrieval":              domain.WrapError(domain.ErrRetrieval, "query", errors.New("down")),
		"fusion_alignment":       domain.WrapError(domain.ErrFusionAlignment, "fuse", errors.New("id")),
		"generation_unavailable": domain.WrapError(domain.ErrGenerationUnavailable, "generate", errors.New("502")),
		"internal":               errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestMiddlewareNormalizesConversationPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/abc/messages", nil))

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/conversations/{conversation_id}/messages", "404"))
	if got != 1 {
		t.Fatalf("expected normalized path counter 1, got %v", got)
	}
}

func TestCorpusMetricsTracksOperations(t *testing.T) {
	m := NewCorpusMetrics("api", NewHTTPServerMetrics("api").Registerer())

	m.Start()
	m.Finish("rebuild", time.Second, nil)
	m.Start()
	m.Finish("reload", time.Second, errors.New("missing"))
	m.SetSnapshot(42, time.Unix(1760000000, 0))

	if got := testutil.ToFloat64(m.opTotal.WithLabelValues("api", "reload", "error")); got != 1 {
		t.Fatalf("expected 1 failed reload, got %v", got)
	}
	if got := testutil.ToFloat64(m.opInFlight); got != 0 {
		t.Fatalf("expected no in-flight operations, got %v", got)
	}
	if got := testutil.ToFloat64(m.chunks); got != 42 {
		t.Fatalf("expected 42 chunks, got %v", got)
	}
}
