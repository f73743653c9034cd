package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/resilience"
)

func newTestClient(url string) *Client {
	return New(Options{BaseURL: url, GenModel: "gen", EmbedModel: "embed", EmbedBatchSize: 2}, nil)
}

func TestGeneratorSendsSystemPromptAndOptions(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  답변입니다 ","done":true}`))
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL))
	text, err := gen.Generate(context.Background(), domain.GenerationRequest{
		Prompt:      "[User Question]\n질문",
		System:      "도슨트",
		Temperature: 0.2,
		MaxTokens:   64,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "답변입니다" {
		t.Fatalf("expected trimmed response, got %q", text)
	}
	if payload["system"] != "도슨트" || payload["model"] != "gen" || payload["stream"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
	options, _ := payload["options"].(map[string]any)
	if options["temperature"] != 0.2 || options["num_predict"] != float64(64) {
		t.Fatalf("unexpected options %v", options)
	}
}

func TestEmbedBatchesRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = []float32{float32(len(req.Input[i])), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	vectors, err := embedder.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 3 || vectors[2][0] != 3 {
		t.Fatalf("unexpected vectors %v", vectors)
	}
	if calls != 2 {
		t.Fatalf("expected 2 batch calls, got %d", calls)
	}
	if embedder.ModelVersion() != "ollama:embed" {
		t.Fatalf("unexpected model version %s", embedder.ModelVersion())
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestEmbedRejectsEmptyAndRaggedVectors(t *testing.T) {
	cases := map[string]string{
		"empty vector":  `{"embeddings":[[0.1,0.2],[]]}`,
		"ragged vector": `{"embeddings":[[0.1,0.2],[0.3]]}`,
	}
	for name, body := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		_, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), []string{"a", "b"})
		server.Close()
		if !errors.Is(err, domain.ErrEmbedding) {
			t.Fatalf("%s: expected ErrEmbedding, got %v", name, err)
		}
	}
}

func TestEmbedRejectsDimensionChangeAcrossBatches(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`{"embeddings":[[1,2],[3,4]]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1,2,3]]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), []string{"a", "b", "c"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestEmbedQueryRejectsEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[]]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).EmbedQuery(context.Background(), "고양이 간식")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestGenerateMapsServerErrorToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewGenerator(newTestClient(server.URL)).Generate(context.Background(), domain.GenerationRequest{Prompt: "q"})
	if !errors.Is(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
}

func TestGenerateMapsDeadlineToTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(Options{BaseURL: server.URL, GenModel: "gen", GenerateTimeout: 50 * time.Millisecond}, nil)
	_, err := NewGenerator(client).Generate(context.Background(), domain.GenerationRequest{Prompt: "q"})
	if !errors.Is(err, domain.ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout, got %v", err)
	}
}

func TestGenerateRetriesRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	})
	client := New(Options{BaseURL: server.URL, GenModel: "gen"}, executor)
	text, err := NewGenerator(client).Generate(context.Background(), domain.GenerationRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "ok" || calls != 2 {
		t.Fatalf("expected success after retry, got %q after %d calls", text, calls)
	}
}

func TestGenerateStreamRelaysTokensInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["stream"] != true {
			t.Errorf("expected stream=true, got %v", payload["stream"])
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"response\":\"안\",\"done\":false}\n{\"response\":\"녕\",\"done\":false}\n\n{\"response\":\"\",\"done\":true}\n"))
	}))
	defer server.Close()

	var tokens []string
	err := NewGenerator(newTestClient(server.URL)).GenerateStream(context.Background(), domain.GenerationRequest{Prompt: "q"}, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if strings.Join(tokens, "") != "안녕" || len(tokens) != 2 {
		t.Fatalf("unexpected tokens %v", tokens)
	}
}

func TestGenerateStreamFailsWhenStreamEndsEarly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"response\":\"안\",\"done\":false}\n"))
	}))
	defer server.Close()

	err := NewGenerator(newTestClient(server.URL)).GenerateStream(context.Background(), domain.GenerationRequest{Prompt: "q"}, func(string) error { return nil })
	if !errors.Is(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
}

func TestGenerateStreamStopsOnCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"response\":\"a\"}\n{\"response\":\"b\"}\n{\"done\":true}\n"))
	}))
	defer server.Close()

	stop := errors.New("client gone")
	var seen int
	err := NewGenerator(newTestClient(server.URL)).GenerateStream(context.Background(), domain.GenerationRequest{Prompt: "q"}, func(string) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Fatalf("expected callback error after one token, got %v (%d tokens)", err, seen)
	}
}

func TestHealthCheckAndListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":"bge-m3"}]}`))
	}))
	defer server.Close()

	gen := NewGenerator(newTestClient(server.URL))
	if !gen.HealthCheck(context.Background()) {
		t.Fatalf("expected healthy generator")
	}
	models, err := gen.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.1:8b" {
		t.Fatalf("unexpected models %v", models)
	}
}

func TestHealthCheckReportsUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if NewGenerator(newTestClient(url)).HealthCheck(context.Background()) {
		t.Fatalf("expected unhealthy generator")
	}
}
