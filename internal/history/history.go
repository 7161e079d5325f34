// Package history reads liveness and packet-loss time series for a
// service from the monitoring system.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/user/circuitdiag/internal/model"
)

// ErrHostNotFound is returned when the monitoring system has no host
// for a service.
var ErrHostNotFound = errors.New("host not found in history source")

// Metric names one of the series kept per host.
type Metric string

const (
	// MetricPing is 1 when the host answered, 0 otherwise.
	MetricPing Metric = "ping"
	// MetricLoss is the packet loss percentage.
	MetricLoss Metric = "loss"
)

// MetricKey identifies a series.
type MetricKey struct {
	Host   string `json:"host"`
	Metric Metric `json:"metric"`
}

// Source fetches samples in ascending timestamp order.
type Source interface {
	HostExists(ctx context.Context, host string) (bool, error)
	FetchHistory(ctx context.Context, key MetricKey, from, to time.Time) ([]model.Sample, error)
}

// StatusWindow is how far back CurrentStatus looks for the latest
// liveness sample.
const StatusWindow = time.Hour

// CurrentStatus reports up when the latest ping sample of the last hour
// is positive, and down when it is not or when there is none.
func CurrentStatus(ctx context.Context, src Source, host string, now time.Time) (model.Status, error) {
	samples, err := src.FetchHistory(ctx, MetricKey{Host: host, Metric: MetricPing}, now.Add(-StatusWindow), now)
	if err != nil {
		return model.StatusUnknown, err
	}
	if len(samples) > 0 && samples[len(samples)-1].Value > 0 {
		return model.StatusUp, nil
	}
	return model.StatusDown, nil
}

// Snapshot is everything the attribution step needs from history.
type Snapshot struct {
	Status model.Status
	Ping   []model.Sample
	Loss   []model.Sample
}

// Collect gathers status, ping and loss series for host over the
// lookback window ending at now. A missing host yields StatusUnknown and
// no samples.
func Collect(ctx context.Context, src Source, host string, lookback time.Duration, now time.Time) (Snapshot, error) {
	exists, err := src.HostExists(ctx, host)
	if err != nil {
		return Snapshot{}, err
	}
	if !exists {
		return Snapshot{Status: model.StatusUnknown}, nil
	}

	status, err := CurrentStatus(ctx, src, host, now)
	if errors.Is(err, ErrItemNotFound) {
		return Snapshot{Status: model.StatusUnknown}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	from := now.Add(-lookback)
	ping, err := src.FetchHistory(ctx, MetricKey{Host: host, Metric: MetricPing}, from, now)
	if err != nil {
		return Snapshot{}, err
	}
	loss, err := src.FetchHistory(ctx, MetricKey{Host: host, Metric: MetricLoss}, from, now)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return Snapshot{}, err
	}
	return Snapshot{Status: status, Ping: ping, Loss: loss}, nil
}
