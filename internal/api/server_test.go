package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/clock/system"
	"github.com/webextract/webextract/internal/id/uuid"
	"github.com/webextract/webextract/internal/jobs"
	"github.com/webextract/webextract/internal/metrics"
	queuemem "github.com/webextract/webextract/internal/queue/memory"
	"github.com/webextract/webextract/internal/status"
	storemem "github.com/webextract/webextract/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, auth AuthConfig) (*httptest.Server, *jobs.Manager) {
	t.Helper()

	jobStore := storemem.NewJobStore()
	records := storemem.NewRecordStore()
	queue := queuemem.NewQueue()
	clk := system.New()
	logger := zap.NewNop()

	manager := jobs.NewManager(jobStore, queue, uuid.New(), clk, logger)
	aggregator := status.New(jobStore, records, queue, nil, clk)

	srv := httptest.NewServer(NewServer(manager, aggregator, records, auth, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, manager
}

func submitBody(urls ...string) *bytes.Buffer {
	payload, _ := json.Marshal(map[string]any{
		"purpose":    "contacts",
		"urls":       urls,
		"batch_size": 2,
		"priority":   1,
	})
	return bytes.NewBuffer(payload)
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", submitBody("https://a.example", "https://b.example"))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted map[string]string
	decodeBody(t, resp, &submitted)
	require.NotEmpty(t, submitted["job_id"])
	require.Equal(t, "pending", submitted["status"])

	resp, err = http.Get(srv.URL + "/v1/jobs/" + submitted["job_id"] + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var progress status.JobProgress
	decodeBody(t, resp, &progress)
	require.Equal(t, submitted["job_id"], progress.JobID)
	require.Equal(t, 2, progress.TotalURLs)
	require.Equal(t, 2, progress.Remaining)
}

func TestSubmit_OmittedBatchSizeGetsDefault(t *testing.T) {
	t.Parallel()

	srv, manager := newTestServer(t, AuthConfig{})

	payload, _ := json.Marshal(map[string]any{
		"purpose": "contacts",
		"urls":    []string{"https://a.example"},
	})
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewBuffer(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted map[string]string
	decodeBody(t, resp, &submitted)
	job, err := manager.GetJob(context.Background(), submitted["job_id"])
	require.NoError(t, err)
	require.Equal(t, jobs.DefaultBatchSize, job.Config.BatchSize)
}

func TestSubmit_ExplicitNegativeBatchSizeRejected(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	payload, _ := json.Marshal(map[string]any{
		"purpose":    "contacts",
		"urls":       []string{"https://a.example"},
		"batch_size": -3,
	})
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewBuffer(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmit_InvalidInput(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", submitBody())
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatus_UnknownJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	resp, err := http.Get(srv.URL + "/v1/jobs/no-such-job/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecords_EmptyListNotNull(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", submitBody("https://a.example"))
	require.NoError(t, err)
	var submitted map[string]string
	decodeBody(t, resp, &submitted)

	resp, err = http.Get(srv.URL + "/v1/jobs/" + submitted["job_id"] + "/records")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		JobID   string            `json:"job_id"`
		Records []json.RawMessage `json:"records"`
	}
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Records)
	require.Empty(t, body.Records)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", submitBody("https://a.example"))
	require.NoError(t, err)
	var submitted map[string]string
	decodeBody(t, resp, &submitted)

	resp, err = http.Post(srv.URL+"/v1/jobs/"+submitted["job_id"]+"/cancel", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled map[string]string
	decodeBody(t, resp, &cancelled)
	require.Equal(t, "cancelled", cancelled["status"])
}

func TestFleetStats(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{})

	resp, err := http.Get(srv.URL + "/v1/fleet/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats status.FleetStats
	decodeBody(t, resp, &stats)
	require.Zero(t, stats.QueueDepth)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, AuthConfig{Enabled: true, APIKey: "sekrit"})

	resp, err := http.Get(srv.URL + "/v1/fleet/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/fleet/stats", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for probes.
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
