package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/resilience"
)

const (
	defaultEmbedBatchSize  = 32
	defaultEmbedTimeout    = 30 * time.Second
	defaultGenerateTimeout = 120 * time.Second
	defaultHealthTimeout   = 5 * time.Second
)

type Options struct {
	BaseURL         string
	GenModel        string
	EmbedModel      string
	EmbedBatchSize  int
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	HealthTimeout   time.Duration
}

type Client struct {
	baseURL         string
	genModel        string
	embedModel      string
	batchSize       int
	embedTimeout    time.Duration
	generateTimeout time.Duration
	healthTimeout   time.Duration
	httpClient      *http.Client
	executor        *resilience.Executor
}

// New builds a client. Deadlines are applied per call through the request
// context so that streamed generations are not cut by a global client timeout.
func New(opts Options, executor *resilience.Executor) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		genModel:        opts.GenModel,
		embedModel:      opts.EmbedModel,
		batchSize:       opts.EmbedBatchSize,
		embedTimeout:    opts.EmbedTimeout,
		generateTimeout: opts.GenerateTimeout,
		healthTimeout:   opts.HealthTimeout,
		httpClient:      &http.Client{},
		executor:        executor,
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultEmbedBatchSize
	}
	if c.embedTimeout <= 0 {
		c.embedTimeout = defaultEmbedTimeout
	}
	if c.generateTimeout <= 0 {
		c.generateTimeout = defaultGenerateTimeout
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = defaultHealthTimeout
	}
	return c
}

func (c *Client) run(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor == nil {
		return call(ctx)
	}
	return c.executor.Execute(ctx, operation, call, classifyOllamaError)
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

// ModelVersion identifies the vector space; snapshots built with another
// model cannot be queried with this embedder.
func (e *Embedder) ModelVersion() string {
	return "ollama:" + e.client.embedModel
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.client.batchSize {
		end := min(start+e.client.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && len(vectors[0]) != len(out[0]) {
			return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed",
				fmt.Errorf("expected dimension %d across batches, got %d", len(out[0]), len(vectors[0])))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.client.embedTimeout)
	defer cancel()

	request := map[string]any{
		"model": e.client.embedModel,
		"input": batch,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.run(ctx, "ollama.embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed", err)
	}
	if len(response.Embeddings) != len(batch) {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed",
			fmt.Errorf("expected %d embeddings, got %d", len(batch), len(response.Embeddings)))
	}
	if err := checkDimensions(response.Embeddings); err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed", err)
	}
	return response.Embeddings, nil
}

// checkDimensions rejects empty vectors and batches whose vectors differ in
// length.
func checkDimensions(vectors [][]float32) error {
	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("embedding %d is empty", i)
		}
		if len(vec) != len(vectors[0]) {
			return fmt.Errorf("expected dimension %d for embedding %d, got %d", len(vectors[0]), i, len(vec))
		}
	}
	return nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed query", fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Model() string {
	return g.client.genModel
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.client.generateTimeout)
	defer cancel()

	var response struct {
		Response string `json:"response"`
	}
	body := g.requestBody(req, false)
	err := g.client.run(ctx, "ollama.generate", func(ctx context.Context) error {
		return g.client.postJSON(ctx, "/api/generate", body, &response, "generate")
	})
	if err != nil {
		return "", mapGenerationError(ctx, "ollama generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

// GenerateStream relays tokens as they arrive. Only opening the stream is
// retried; a failure after the first token is returned as is.
func (g *Generator) GenerateStream(ctx context.Context, req domain.GenerationRequest, onToken func(string) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.client.generateTimeout)
	defer cancel()

	var resp *http.Response
	body := g.requestBody(req, true)
	err := g.client.run(ctx, "ollama.generate_stream", func(ctx context.Context) error {
		var err error
		resp, err = g.client.openStream(ctx, "/api/generate", body, "generate")
		return err
	})
	if err != nil {
		return mapGenerationError(ctx, "ollama generate stream", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var frame struct {
			Response string `json:"response"`
			Done     bool   `json:"done"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			return domain.WrapError(domain.ErrGenerationUnavailable, "ollama generate stream", fmt.Errorf("decode frame: %w", err))
		}
		if frame.Error != "" {
			return domain.WrapError(domain.ErrGenerationUnavailable, "ollama generate stream", fmt.Errorf("%s", frame.Error))
		}
		if frame.Response != "" {
			if err := onToken(frame.Response); err != nil {
				return err
			}
		}
		if frame.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return mapGenerationError(ctx, "ollama generate stream", err)
	}
	if ctx.Err() != nil {
		return mapGenerationError(ctx, "ollama generate stream", ctx.Err())
	}
	return domain.WrapError(domain.ErrGenerationUnavailable, "ollama generate stream", fmt.Errorf("stream ended before done"))
}

func (g *Generator) requestBody(req domain.GenerationRequest, stream bool) map[string]any {
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := map[string]any{
		"model":   g.client.genModel,
		"prompt":  req.Prompt,
		"stream":  stream,
		"options": options,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	return body
}

// HealthCheck reports whether the model server answers /api/tags in time.
func (g *Generator) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.client.healthTimeout)
	defer cancel()

	var tags tagsResponse
	return g.client.getJSON(ctx, "/api/tags", &tags, "tags") == nil
}

func (g *Generator) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.client.healthTimeout)
	defer cancel()

	var tags tagsResponse
	err := g.client.run(ctx, "ollama.tags", func(ctx context.Context) error {
		return g.client.getJSON(ctx, "/api/tags", &tags, "tags")
	})
	if err != nil {
		return nil, mapGenerationError(ctx, "ollama list models", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
