package gist

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/status"
)

var (
	clientPrometheusMetrics sync.Once

	clientOperationsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gistfs",
			Subsystem: "gist",
			Name:      "client_operations_duration_seconds",
			Help:      "Amount of time spent per operation against the gists API, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"operation", "grpc_code"})
	clientFetchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gistfs",
			Subsystem: "gist",
			Name:      "client_fetch_results_total",
			Help:      "Number of successful gist fetches, partitioned by whether the gist was modified.",
		},
		[]string{"result"})
)

type metricsClient struct {
	base  Client
	clock clock.Clock

	fetchModified    prometheus.Counter
	fetchNotModified prometheus.Counter
}

// NewMetricsClient creates a decorator for Client that exposes the
// duration and outcome of every operation as Prometheus metrics.
func NewMetricsClient(base Client, clock clock.Clock) Client {
	clientPrometheusMetrics.Do(func() {
		prometheus.MustRegister(clientOperationsDurationSeconds)
		prometheus.MustRegister(clientFetchResultsTotal)
	})

	return &metricsClient{
		base:  base,
		clock: clock,

		fetchModified:    clientFetchResultsTotal.WithLabelValues("Modified"),
		fetchNotModified: clientFetchResultsTotal.WithLabelValues("NotModified"),
	}
}

func (c *metricsClient) observe(operation string, timeStart time.Time, err error) {
	clientOperationsDurationSeconds.
		WithLabelValues(operation, status.Code(err).String()).
		Observe(c.clock.Now().Sub(timeStart).Seconds())
}

func (c *metricsClient) Fetch(ctx context.Context, gistID string, previous ETag) (*Snapshot, ETag, error) {
	timeStart := c.clock.Now()
	snapshot, etag, err := c.base.Fetch(ctx, gistID, previous)
	c.observe("Fetch", timeStart, err)
	if err == nil {
		if snapshot == nil {
			c.fetchNotModified.Inc()
		} else {
			c.fetchModified.Inc()
		}
	}
	return snapshot, etag, err
}

func (c *metricsClient) FetchRawContent(ctx context.Context, rawURL string) ([]byte, error) {
	timeStart := c.clock.Now()
	content, err := c.base.FetchRawContent(ctx, rawURL)
	c.observe("FetchRawContent", timeStart, err)
	return content, err
}
