package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/logging"
)

const persistTimeout = 5 * time.Second

type RetrievalOptions struct {
	DefaultK         int
	MaxK             int
	DenseWeight      float64
	SparseWeight     float64
	ScoreThreshold   float64
	CitationLimit    int
	Temperature      float64
	MaxTokens        int
	MaxTokensCeiling int
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		DefaultK:         5,
		MaxK:             20,
		DenseWeight:      0.7,
		SparseWeight:     0.3,
		ScoreThreshold:   0.15,
		CitationLimit:    3,
		Temperature:      0.7,
		MaxTokens:        512,
		MaxTokensCeiling: 4096,
	}
}

// ConversationOrchestrator runs one question through retrieval, fusion,
// grounding, prompting, generation and persistence.
type ConversationOrchestrator struct {
	holder    *SnapshotHolder
	embedder  ports.Embedder
	generator ports.Generator
	store     ports.ConversationStore
	observer  ports.PipelineObserver
	opts      RetrievalOptions
}

func NewConversationOrchestrator(
	holder *SnapshotHolder,
	embedder ports.Embedder,
	generator ports.Generator,
	store ports.ConversationStore,
	observer ports.PipelineObserver,
	opts RetrievalOptions,
) *ConversationOrchestrator {
	def := DefaultRetrievalOptions()
	if opts.DefaultK <= 0 {
		opts.DefaultK = def.DefaultK
	}
	if opts.MaxK < opts.DefaultK {
		opts.MaxK = max(def.MaxK, opts.DefaultK)
	}
	if opts.DenseWeight == 0 && opts.SparseWeight == 0 {
		opts.DenseWeight, opts.SparseWeight = def.DenseWeight, def.SparseWeight
	}
	if opts.CitationLimit <= 0 {
		opts.CitationLimit = def.CitationLimit
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.MaxTokensCeiling < opts.MaxTokens {
		opts.MaxTokensCeiling = max(def.MaxTokensCeiling, opts.MaxTokens)
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}
	return &ConversationOrchestrator{
		holder:    holder,
		embedder:  embedder,
		generator: generator,
		store:     store,
		observer:  observer,
		opts:      opts,
	}
}

type turn struct {
	req         domain.QueryRequest
	temperature float64
	grounding   GroundingResult
	prompt      PromptContext
	tracker     *stageTracker
	logger      *slog.Logger
	started     time.Time
}

func (o *ConversationOrchestrator) Answer(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error) {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	t.tracker.advance(domain.StageGenerating)
	text, err := o.generator.Generate(ctx, o.generationRequest(t))
	if err != nil {
		return nil, t.tracker.fail(generationError(err))
	}

	t.tracker.advance(domain.StageCiting)
	answer := &domain.Answer{
		Text:      text,
		Citations: t.prompt.Citations,
		Grounded:  !t.prompt.Empty,
		Context:   t.grounding.State(),
	}

	t.tracker.advance(domain.StagePersisting)
	o.persist(ctx, t, answer.Text)

	o.finish(t, "blocking")
	return answer, nil
}

// Stream emits sources, then tokens as the model produces them, then done.
// A generation failure after sources emits a single error event instead of
// done. An emit error stops consumption and is returned.
func (o *ConversationOrchestrator) Stream(ctx context.Context, req domain.QueryRequest, emit func(domain.StreamEvent) error) error {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return err
	}

	t.tracker.advance(domain.StageGenerating)
	if err := emit(domain.StreamEvent{Type: domain.StreamEventSources, Citations: t.prompt.Citations}); err != nil {
		return t.tracker.abandon(err)
	}

	var (
		answer  strings.Builder
		emitErr error
	)
	genErr := o.generator.GenerateStream(ctx, o.generationRequest(t), func(token string) error {
		if err := ctx.Err(); err != nil {
			emitErr = err
			return err
		}
		answer.WriteString(token)
		if err := emit(domain.StreamEvent{Type: domain.StreamEventToken, Token: token}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return t.tracker.abandon(emitErr)
	}
	if genErr != nil {
		if errors.Is(genErr, context.Canceled) {
			return t.tracker.abandon(genErr)
		}
		failure := t.tracker.fail(generationError(genErr))
		if err := emit(domain.StreamEvent{Type: domain.StreamEventError, Err: failure}); err != nil {
			t.logger.Debug("stream_error_event_dropped", "error", err)
		}
		return failure
	}

	t.tracker.advance(domain.StageCiting)
	t.tracker.advance(domain.StagePersisting)
	o.persist(ctx, t, strings.TrimSpace(answer.String()))

	o.finish(t, "stream")
	return emit(domain.StreamEvent{Type: domain.StreamEventDone})
}

// prepare runs every stage up to and including prompt assembly. Failures
// here happen before any generation call.
func (o *ConversationOrchestrator) prepare(ctx context.Context, req domain.QueryRequest) (*turn, error) {
	logger := logging.FromContext(ctx)
	t := &turn{
		tracker: newStageTracker(o.observer, logger),
		logger:  logger,
		started: time.Now(),
	}

	normalized, temperature, err := o.normalize(req)
	if err != nil {
		return nil, t.tracker.fail(err)
	}
	t.req = normalized
	t.temperature = temperature

	snap := o.holder.Load()
	if snap == nil {
		return nil, t.tracker.fail(domain.WrapError(domain.ErrRetrieval, "load snapshot", errors.New("corpus is not loaded")))
	}

	t.tracker.advance(domain.StageRetrieving)
	dense, sparse, err := o.retrieve(ctx, snap, t.req)
	if err != nil {
		return nil, t.tracker.fail(err)
	}

	t.tracker.advance(domain.StageFusing)
	fused, err := fuseHybrid(snap, dense, sparse, fusionWeights{dense: o.opts.DenseWeight, sparse: o.opts.SparseWeight}, t.req.K)
	if err != nil {
		return nil, t.tracker.fail(err)
	}

	t.tracker.advance(domain.StageFiltering)
	t.grounding = applyGroundingFilter(fused, o.opts.ScoreThreshold)

	t.tracker.advance(domain.StagePrompting)
	t.prompt = assembleContext(t.req.Query, t.grounding, o.opts.CitationLimit)
	logger.Debug("rag_context",
		"corpus_version", snap.Version,
		"candidates", len(fused),
		"kept", len(t.grounding.Results),
		"context", t.grounding.State(),
	)
	return t, nil
}

func (o *ConversationOrchestrator) normalize(req domain.QueryRequest) (domain.QueryRequest, float64, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.Query == "" {
		return req, 0, domain.WrapError(domain.ErrInvalidInput, "validate query", errors.New("query is required"))
	}

	switch {
	case req.K == 0:
		req.K = o.opts.DefaultK
	case req.K < 0 || req.K > o.opts.MaxK:
		return req, 0, domain.WrapError(domain.ErrInvalidInput, "validate query", fmt.Errorf("k must be between 1 and %d", o.opts.MaxK))
	}

	switch {
	case req.MaxTokens == 0:
		req.MaxTokens = o.opts.MaxTokens
	case req.MaxTokens < 0 || req.MaxTokens > o.opts.MaxTokensCeiling:
		return req, 0, domain.WrapError(domain.ErrInvalidInput, "validate query", fmt.Errorf("max_tokens must be between 1 and %d", o.opts.MaxTokensCeiling))
	}

	temperature := o.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
		if math.IsNaN(temperature) || temperature < 0 || temperature > 2 {
			return req, 0, domain.WrapError(domain.ErrInvalidInput, "validate query", errors.New("temperature must be between 0 and 2"))
		}
	}
	return req, temperature, nil
}

// retrieve runs both legs concurrently, each over-fetching 2k.
func (o *ConversationOrchestrator) retrieve(ctx context.Context, snap *Snapshot, req domain.QueryRequest) ([]domain.SearchResult, []domain.SearchResult, error) {
	fetch := 2 * req.K

	var (
		wg        sync.WaitGroup
		dense     []domain.SearchResult
		sparse    []domain.SearchResult
		denseErr  error
		sparseErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dense, denseErr = o.denseLeg(ctx, snap, req, fetch)
	}()
	go func() {
		defer wg.Done()
		if !snap.Sparse.Ready() {
			sparseErr = domain.WrapError(domain.ErrRetrieval, "sparse query", errors.New("sparse index not ready"))
			return
		}
		sparse = snap.Sparse.Query(snap.Sparse.Tokenize(req.Query), fetch, req.Filter)
	}()
	wg.Wait()

	if denseErr != nil {
		return nil, nil, denseErr
	}
	if sparseErr != nil {
		return nil, nil, sparseErr
	}
	return dense, sparse, nil
}

func (o *ConversationOrchestrator) denseLeg(ctx context.Context, snap *Snapshot, req domain.QueryRequest, fetch int) ([]domain.SearchResult, error) {
	if !snap.Vector.Ready() {
		return nil, domain.WrapError(domain.ErrRetrieval, "dense query", errors.New("vector index not ready"))
	}
	if model := o.embedder.ModelVersion(); model != snap.EmbeddingModel {
		return nil, domain.WrapError(domain.ErrRetrieval, "dense query",
			fmt.Errorf("query embedder %q does not match snapshot model %q", model, snap.EmbeddingModel))
	}

	vector, err := o.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbedding) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}

	results, err := snap.Vector.Query(ctx, vector, fetch, req.Filter)
	if err != nil {
		if domain.IsKind(err, domain.ErrRetrieval) || domain.IsKind(err, domain.ErrFusionAlignment) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrRetrieval, "dense query", err)
	}
	return results, nil
}

func (o *ConversationOrchestrator) generationRequest(t *turn) domain.GenerationRequest {
	return domain.GenerationRequest{
		Prompt:      t.prompt.Prompt,
		System:      t.prompt.SystemInstructions,
		Temperature: t.temperature,
		MaxTokens:   t.req.MaxTokens,
	}
}

// persist appends the user question and the answer. Failures are reported
// and swallowed; the answer is returned regardless.
func (o *ConversationOrchestrator) persist(ctx context.Context, t *turn, answer string) {
	if o.store == nil || t.req.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	messages := []domain.Message{
		{ConversationID: t.req.ConversationID, Role: domain.RoleUser, Content: t.req.Query},
		{ConversationID: t.req.ConversationID, Role: domain.RoleAssistant, Content: answer, Citations: t.prompt.Citations},
	}
	for _, msg := range messages {
		msg.CreatedAt = time.Now().UTC()
		if _, err := o.store.AppendMessage(ctx, msg); err != nil {
			o.observer.ObservePersistenceFailure()
			t.logger.Error("persist_failed",
				"conversation_id", t.req.ConversationID,
				"role", msg.Role,
				"error", err,
			)
			return
		}
	}
}

func (o *ConversationOrchestrator) finish(t *turn, mode string) {
	t.tracker.advance(domain.StageResponded)
	elapsed := time.Since(t.started)
	o.observer.ObserveOutcome(mode, t.grounding.State(), len(t.prompt.Citations), elapsed)
	t.logger.Info("rag_answered",
		"mode", mode,
		"context", t.grounding.State(),
		"citations", len(t.prompt.Citations),
		"duration_ms", float64(elapsed.Microseconds())/1000.0,
	)
}

// generationError keeps caller cancellation as is and folds every other
// failure into a generation error kind.
func generationError(err error) error {
	if domain.IsGenerationFailure(err) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrGenerationTimeout, "generate", err)
	}
	return domain.WrapError(domain.ErrGenerationUnavailable, "generate", err)
}

type stageTracker struct {
	observer ports.PipelineObserver
	logger   *slog.Logger
	stage    domain.Stage
	since    time.Time
}

func newStageTracker(observer ports.PipelineObserver, logger *slog.Logger) *stageTracker {
	return &stageTracker{
		observer: observer,
		logger:   logger,
		stage:    domain.StageReceived,
		since:    time.Now(),
	}
}

func (t *stageTracker) advance(next domain.Stage) {
	now := time.Now()
	t.observer.ObserveStage(t.stage, now.Sub(t.since))
	t.logger.Debug("rag_stage", "from", t.stage, "to", next)
	t.stage = next
	t.since = now
}

func (t *stageTracker) fail(err error) error {
	t.observer.ObserveFailure(t.stage, err)
	t.logger.Warn("rag_failed", "stage", t.stage, "error", err)
	t.stage = domain.StageFailed
	return err
}

// abandon records a stream the caller walked away from.
func (t *stageTracker) abandon(err error) error {
	t.logger.Info("rag_stream_abandoned", "stage", t.stage, "error", err)
	t.stage = domain.StageFailed
	return err
}
