package metrics_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/metrics"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRecords []driver.Record

func (s staticRecords) Records() []driver.Record { return s }

func applyID() planner.ID {
	return planner.ID{Repository: "example", Target: "staging", Kind: planner.KindApply}
}

func TestCollector_TracksHealthAndAttempts(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector()
	id := applyID()

	collector.Observe(driver.Record{ID: id, Health: driver.HealthPending})
	collector.Observe(driver.Record{ID: id, Health: driver.HealthProgressing, Attempts: 1})
	collector.Observe(driver.Record{ID: id, Health: driver.HealthFailed, Attempts: 1, ConsecutiveFailures: 1})
	collector.Observe(driver.Record{ID: id, Health: driver.HealthProgressing, Attempts: 2, ConsecutiveFailures: 1})
	collector.Observe(driver.Record{ID: id, Health: driver.HealthReady, Attempts: 2})

	expected := `
# HELP stageflow_stage_attempts_total Reconciliation attempts per stage.
# TYPE stageflow_stage_attempts_total counter
stageflow_stage_attempts_total{repository="example",stage="apply",target="staging"} 2
# HELP stageflow_stage_failures_total Failed reconciliation attempts per stage.
# TYPE stageflow_stage_failures_total counter
stageflow_stage_failures_total{repository="example",stage="apply",target="staging"} 1
# HELP stageflow_stage_consecutive_failures Failures since the last successful attempt.
# TYPE stageflow_stage_consecutive_failures gauge
stageflow_stage_consecutive_failures{repository="example",stage="apply",target="staging"} 0
`

	err := testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected),
		"stageflow_stage_attempts_total",
		"stageflow_stage_failures_total",
		"stageflow_stage_consecutive_failures",
	)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(collector.Registry(), "stageflow_stage_health")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestCollector_ForgetsRetiredStages(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector()
	id := applyID()

	collector.Observe(driver.Record{ID: id, Health: driver.HealthReady, Attempts: 1})
	collector.Observe(driver.Record{ID: id, Health: driver.HealthReady, Attempts: 1, Retired: true})

	count, err := testutil.GatherAndCount(collector.Registry(),
		"stageflow_stage_health", "stageflow_stage_attempts_total")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHandler_ServesRecordsAndMetrics(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector()
	record := driver.Record{
		ID:       applyID(),
		Name:     "gitops-example-staging",
		Health:   driver.HealthReady,
		Revision: "main@sha1:abc",
	}
	collector.Observe(record)

	server := httptest.NewServer(metrics.NewHandler(collector, staticRecords{record}))
	t.Cleanup(server.Close)

	records, err := metrics.FetchRecords(t.Context(), server.Client(), server.URL)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
	assert.Equal(t, driver.HealthReady, records[0].Health)
	assert.Equal(t, "main@sha1:abc", records[0].Revision)

	resp, err := server.Client().Get(server.URL + metrics.MetricsPath)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetchRecords_UnexpectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := metrics.FetchRecords(t.Context(), server.Client(), server.URL)
	require.ErrorIs(t, err, metrics.ErrUnexpectedStatus)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	server := metrics.NewServer(address, metrics.NewCollector(), staticRecords{}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, getErr := http.Get("http://" + address + metrics.HealthPath) //nolint:noctx
		if getErr != nil {
			return false
		}

		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
