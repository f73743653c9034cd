package bootstrap

import (
	"context"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/usecase"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/metrics"
)

type corpusService interface {
	Rebuild(ctx context.Context, records []domain.ChunkRecord) (string, error)
	Reload(ctx context.Context, version string) error
}

// InstrumentedCorpus records corpus operations and the active snapshot size.
type InstrumentedCorpus struct {
	svc     corpusService
	holder  *usecase.SnapshotHolder
	metrics *metrics.CorpusMetrics
}

func (c *InstrumentedCorpus) Rebuild(ctx context.Context, records []domain.ChunkRecord) (string, error) {
	start := c.begin()
	version, err := c.svc.Rebuild(ctx, records)
	c.end("rebuild", start, err)
	return version, err
}

func (c *InstrumentedCorpus) Reload(ctx context.Context, version string) error {
	start := c.begin()
	err := c.svc.Reload(ctx, version)
	c.end("reload", start, err)
	return err
}

func (c *InstrumentedCorpus) begin() time.Time {
	c.metrics.Start()
	return time.Now()
}

func (c *InstrumentedCorpus) end(operation string, start time.Time, err error) {
	c.metrics.Finish(operation, time.Since(start), err)
	if snap := c.holder.Load(); snap != nil {
		c.metrics.SetSnapshot(snap.Len(), snap.BuiltAt)
	}
}
