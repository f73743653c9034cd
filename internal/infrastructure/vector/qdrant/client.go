// Package qdrant backs the dense index with a Qdrant collection per corpus
// version, so a rebuild never mutates the collection live queries read from.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/resilience"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector"
)

const upsertBatchSize = 256

// retainedCollections is how many corpus versions stay in Qdrant after a
// build: the new one and the one readers may still hold.
const retainedCollections = 2

// pointsAPI is the subset of *qdrant.Client the index uses.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, collectionName string) error
}

// Dial connects to Qdrant's gRPC port, derived as the REST port + 1.
func Dial(rawURL string) (*qdrant.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if parsed.Port() != "" {
		if httpPort, err := strconv.Atoi(parsed.Port()); err == nil {
			port = httpPort + 1
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return client, nil
}

type Builder struct {
	client     pointsAPI
	collection string
	metric     vector.Metric
	executor   *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]int
}

func NewBuilder(client pointsAPI, collection string, metric vector.Metric, executor *resilience.Executor) *Builder {
	return &Builder{
		client:     client,
		collection: collection,
		metric:     metric,
		executor:   executor,
		ensured:    make(map[string]int),
	}
}

// CollectionName returns the versioned collection for a corpus version.
func (b *Builder) CollectionName(version string) string {
	var sb strings.Builder
	for _, r := range version {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return b.collection + "_" + sb.String()
}

func (b *Builder) Build(ctx context.Context, version string, chunks []domain.Chunk, vectors [][]float32) (ports.VectorIndex, error) {
	dim, err := vector.ValidateVectors(chunks, vectors)
	if err != nil {
		return nil, domain.WrapError(domain.ErrFusionAlignment, "build qdrant index", err)
	}
	name := b.CollectionName(version)
	if dim > 0 {
		if err := b.ensureCollection(ctx, name, dim); err != nil {
			return nil, err
		}
		if err := b.upsert(ctx, name, version, chunks, vectors); err != nil {
			return nil, err
		}
	}
	slog.Info("qdrant_index_built", "collection", name, "points", len(chunks), "dimension", dim)
	b.prune(ctx, name)
	return b.newIndex(name, version, dim, chunks), nil
}

// prune drops versioned collections older than the newest
// retainedCollections. Versions start with their build timestamp, so name
// order is build order. The collection just built is never dropped, and a
// failure only logs since the new index is already usable.
func (b *Builder) prune(ctx context.Context, built string) {
	names, err := b.client.ListCollections(ctx)
	if err != nil {
		slog.Warn("qdrant_prune_failed", "error", err)
		return
	}
	prefix := b.collection + "_"
	versioned := make([]string, 0, len(names))
	for _, n := range names {
		suffix, ok := strings.CutPrefix(n, prefix)
		if ok && suffix != "" && suffix[0] >= '0' && suffix[0] <= '9' {
			versioned = append(versioned, n)
		}
	}
	slices.Sort(versioned)
	if len(versioned) <= retainedCollections {
		return
	}
	for _, n := range versioned[:len(versioned)-retainedCollections] {
		if n == built {
			continue
		}
		call := func(ctx context.Context) error { return b.client.DeleteCollection(ctx, n) }
		if err := b.run(ctx, "qdrant.delete_collection", call); err != nil {
			slog.Warn("qdrant_prune_failed", "collection", n, "error", err)
			continue
		}
		b.ensureMu.Lock()
		delete(b.ensured, n)
		b.ensureMu.Unlock()
		slog.Info("qdrant_collection_dropped", "collection", n)
	}
}

// Open reattaches to a versioned collection when it already holds every point
// and rebuilds it otherwise.
func (b *Builder) Open(ctx context.Context, version string, chunks []domain.Chunk, vectors [][]float32) (ports.VectorIndex, error) {
	dim, err := vector.ValidateVectors(chunks, vectors)
	if err != nil {
		return nil, domain.WrapError(domain.ErrFusionAlignment, "open qdrant index", err)
	}
	name := b.CollectionName(version)
	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "qdrant collection exists", err)
	}
	if exists {
		info, err := b.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrieval, "qdrant collection info", err)
		}
		if info.PointsCount != nil && int(*info.PointsCount) == len(chunks) {
			slog.Info("qdrant_index_reattached", "collection", name, "points", len(chunks))
			return b.newIndex(name, version, dim, chunks), nil
		}
	}
	return b.Build(ctx, version, chunks, vectors)
}

func (b *Builder) newIndex(name, version string, dim int, chunks []domain.Chunk) *Index {
	return &Index{
		client:     b.client,
		collection: name,
		version:    version,
		metric:     b.metric,
		dimension:  dim,
		chunks:     append([]domain.Chunk(nil), chunks...),
		executor:   b.executor,
	}
}

func (b *Builder) ensureCollection(ctx context.Context, name string, dim int) error {
	b.ensureMu.Lock()
	defer b.ensureMu.Unlock()
	if b.ensured[name] == dim {
		return nil
	}

	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return domain.WrapError(domain.ErrRetrieval, "qdrant collection exists", err)
	}
	if !exists {
		distance := qdrant.Distance_Euclid
		if b.metric == vector.MetricCosine {
			distance = qdrant.Distance_Cosine
		}
		err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: distance,
			}),
		})
		if err != nil {
			return domain.WrapError(domain.ErrRetrieval, "qdrant create collection", err)
		}
	}
	b.ensured[name] = dim
	return nil
}

func (b *Builder) upsert(ctx context.Context, name, version string, chunks []domain.Chunk, vectors [][]float32) error {
	wait := true
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"chunk_id":       chunks[i].ID,
					"corpus_version": version,
					"source":         string(chunks[i].Metadata.Source()),
					"category":       domain.CategoryOf(chunks[i].Metadata),
				}),
			})
		}
		call := func(ctx context.Context) error {
			_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Wait:           &wait,
				Points:         points,
			})
			return err
		}
		if err := b.run(ctx, "qdrant.upsert", call); err != nil {
			return domain.WrapError(domain.ErrRetrieval, "qdrant upsert", err)
		}
	}
	return nil
}

func (b *Builder) run(ctx context.Context, operation string, call func(context.Context) error) error {
	if b.executor == nil {
		return call(ctx)
	}
	return b.executor.Execute(ctx, operation, call, classifyQdrantError)
}

type Index struct {
	client     pointsAPI
	collection string
	version    string
	metric     vector.Metric
	dimension  int
	chunks     []domain.Chunk
	executor   *resilience.Executor
}

func (ix *Index) Query(ctx context.Context, query []float32, k int, filter domain.SearchFilter) ([]domain.SearchResult, error) {
	if !ix.Ready() {
		return nil, domain.WrapError(domain.ErrRetrieval, "qdrant query", fmt.Errorf("index not initialised"))
	}
	if len(ix.chunks) == 0 {
		return nil, nil
	}
	if len(query) != ix.dimension {
		return nil, domain.WrapError(domain.ErrRetrieval, "qdrant query",
			fmt.Errorf("query dimension %d, index dimension %d", len(query), ix.dimension))
	}
	if k <= 0 {
		k = len(ix.chunks)
	}

	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filter),
	}

	var points []*qdrant.ScoredPoint
	call := func(ctx context.Context) error {
		var err error
		points, err = ix.client.Query(ctx, req)
		return err
	}
	var err error
	if ix.executor != nil {
		err = ix.executor.Execute(ctx, "qdrant.query", call, classifyQdrantError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "qdrant query", err)
	}

	hits := make([]vector.Hit, 0, len(points))
	for _, p := range points {
		chunk, err := ix.resolve(p)
		if err != nil {
			return nil, err
		}
		hits = append(hits, vector.Hit{Chunk: chunk, Distance: ix.distanceFromScore(p.GetScore())})
	}
	return vector.Rank(hits, k), nil
}

// resolve maps a point back to the snapshot chunk table and checks that the
// point was written for this corpus version.
func (ix *Index) resolve(p *qdrant.ScoredPoint) (domain.Chunk, error) {
	pos := int(p.GetId().GetNum())
	payload := p.GetPayload()
	chunkID := payload["chunk_id"].GetStringValue()
	version := payload["corpus_version"].GetStringValue()
	if version != ix.version {
		return domain.Chunk{}, domain.WrapError(domain.ErrFusionAlignment, "qdrant query",
			fmt.Errorf("point %d belongs to corpus %q, snapshot is %q", pos, version, ix.version))
	}
	if pos < 0 || pos >= len(ix.chunks) || ix.chunks[pos].ID != chunkID {
		return domain.Chunk{}, domain.WrapError(domain.ErrFusionAlignment, "qdrant query",
			fmt.Errorf("point %d (%s) does not match snapshot chunk table", pos, chunkID))
	}
	return ix.chunks[pos], nil
}

// distanceFromScore converts Qdrant's score into this package's metric:
// Euclid scores are plain distances, Cosine scores are similarities.
func (ix *Index) distanceFromScore(score float32) float64 {
	s := float64(score)
	if ix.metric == vector.MetricCosine {
		return 1 - s
	}
	return s * s
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

func (ix *Index) Ready() bool {
	return ix != nil && ix.client != nil
}

func (ix *Index) Backend() string {
	return "qdrant"
}

func buildFilter(filter domain.SearchFilter) *qdrant.Filter {
	if filter.IsZero() {
		return nil
	}
	must := make([]*qdrant.Condition, 0, 2)
	if len(filter.Sources) > 0 {
		sources := make([]string, 0, len(filter.Sources))
		for _, s := range filter.Sources {
			sources = append(sources, string(s))
		}
		must = append(must, qdrant.NewMatchKeywords("source", sources...))
	}
	if filter.Category != "" {
		must = append(must, qdrant.NewMatch("category", filter.Category))
	}
	return &qdrant.Filter{Must: must}
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
