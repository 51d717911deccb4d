package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeanalysis/framework"
)

type stubSubmitter struct {
	specs []JobSpec
	err   error
}

func (s *stubSubmitter) Submit(ctx context.Context, spec JobSpec) (JobReceipt, error) {
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return JobReceipt{}, s.err
	}
	return JobReceipt{ID: "job-1", Backend: "stub"}, nil
}

func postJob(t *testing.T, api *APIServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAPIServerSubmitsJob(t *testing.T) {
	sub := &stubSubmitter{}
	api := &APIServer{Submitter: sub}

	rec := postJob(t, api, `{"goal": "  document the billing service  ", "env": {"ENABLE_GRAPH": "true"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Batch job submitted successfully", resp.Message)
	assert.Equal(t, "job-1", resp.Result.ID)
	require.Len(t, sub.specs, 1)
	assert.Equal(t, "document the billing service", sub.specs[0].Goal)
	assert.Equal(t, "true", sub.specs[0].Env["ENABLE_GRAPH"])
}

func TestAPIServerRejectsBadBodies(t *testing.T) {
	for name, body := range map[string]string{
		"invalid json": `{"goal":`,
		"missing goal": `{"task": "x"}`,
		"blank goal":   `{"goal": "   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			sub := &stubSubmitter{}
			rec := postJob(t, &APIServer{Submitter: sub}, body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"Invalid request body. Must include a \"goal\" field."}`, rec.Body.String())
			assert.Empty(t, sub.specs)
		})
	}
}

func TestAPIServerReportsSubmitFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := framework.NewMetrics(reg)
	require.NoError(t, err)
	api := &APIServer{Submitter: &stubSubmitter{err: errors.New("queue down")}, Metrics: metrics, Gatherer: reg}

	rec := postJob(t, api, `{"goal": "x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue down")

	metricsRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), `codeanalysis_jobs_total{outcome="failure",stage="submit"} 1`)
}

func TestAPIServerHealthAndMethod(t *testing.T) {
	api := &APIServer{Submitter: &stubSubmitter{}}

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCommandLineQuotesGoal(t *testing.T) {
	assert.Equal(t, []string{"sh", "-c", "codeanalysis run --goal 'list files'"}, CommandLine("", "list files"))
	assert.Equal(t,
		[]string{"sh", "-c", `apt-get update && codeanalysis run --goal 'it'\''s done'`},
		CommandLine("apt-get update", "it's done"))
}
