package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// SampleStore persists samples per series.
type SampleStore interface {
	SaveSamples(key MetricKey, samples []model.Sample) error
	Samples(key MetricKey, from, to time.Time) ([]model.Sample, error)
	HasHost(host string) (bool, error)
}

// Recorded serves history from a local store, for offline analysis of
// series captured earlier.
type Recorded struct {
	store SampleStore
}

// NewRecorded creates a source backed by store.
func NewRecorded(store SampleStore) *Recorded {
	return &Recorded{store: store}
}

func (r *Recorded) HostExists(_ context.Context, host string) (bool, error) {
	return r.store.HasHost(host)
}

func (r *Recorded) FetchHistory(_ context.Context, key MetricKey, from, to time.Time) ([]model.Sample, error) {
	samples, err := r.store.Samples(key, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read recorded %s history for %s: %w", key.Metric, key.Host, err)
	}
	return samples, nil
}

// Recording passes requests to an upstream source and writes every
// fetched series to a store.
type Recording struct {
	upstream Source
	store    SampleStore
	log      *slog.Logger
}

// NewRecording wraps upstream.
func NewRecording(upstream Source, store SampleStore) *Recording {
	return &Recording{upstream: upstream, store: store, log: util.Component("history")}
}

func (r *Recording) HostExists(ctx context.Context, host string) (bool, error) {
	return r.upstream.HostExists(ctx, host)
}

func (r *Recording) FetchHistory(ctx context.Context, key MetricKey, from, to time.Time) ([]model.Sample, error) {
	samples, err := r.upstream.FetchHistory(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		if err := r.store.SaveSamples(key, samples); err != nil {
			r.log.Warn("failed to record samples", "host", key.Host, "metric", key.Metric, "error", err)
		}
	}
	return samples, nil
}
