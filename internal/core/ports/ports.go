package ports

import (
	"context"
	"io"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

// ObjectStorage stores corpus snapshot files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// CorpusEvents broadcasts corpus rebuilds to every replica.
type CorpusEvents interface {
	PublishCorpusRebuilt(ctx context.Context, version string) error
	SubscribeCorpusRebuilt(ctx context.Context, handler func(context.Context, string) error) error
}

// PipelineObserver receives orchestration telemetry.
type PipelineObserver interface {
	ObserveStage(stage domain.Stage, duration time.Duration)
	ObserveOutcome(mode string, contextState string, citations int, duration time.Duration)
	ObserveFailure(stage domain.Stage, err error)
	ObservePersistenceFailure()
}

// NopObserver discards telemetry.
type NopObserver struct{}

func (NopObserver) ObserveStage(domain.Stage, time.Duration)          {}
func (NopObserver) ObserveOutcome(string, string, int, time.Duration) {}
func (NopObserver) ObserveFailure(domain.Stage, error)                {}
func (NopObserver) ObservePersistenceFailure()                        {}
