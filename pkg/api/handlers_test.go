package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/config"
	"github.com/evalops/evalboard/pkg/dashboard"
)

func setupTestAPI(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if cfg == nil {
		cfg = &config.Config{}
	}

	cfg.Database = config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() {
		_ = st.Stop()
	})

	s := &server{
		log:       log,
		cfg:       cfg,
		store:     st,
		dashboard: dashboard.NewService(log, st),
		credTable: map[string][]byte{},
	}

	for _, u := range cfg.Auth.Users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.MinCost)
		require.NoError(t, err)

		s.credTable[u.Username] = hash
	}

	return s.buildRouter()
}

func doRequest(
	t *testing.T,
	router http.Handler,
	method, path, body string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestAPI_Health(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAPI_HealthDatabaseDown(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
	}

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))

	s := &server{
		log:       log,
		cfg:       cfg,
		store:     st,
		dashboard: dashboard.NewService(log, st),
	}
	router := s.buildRouter()

	// Close the connection out from under the handler; the probe must
	// report the outage instead of succeeding.
	require.NoError(t, st.Stop())

	rec := doRequest(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "disconnected", body["database"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAPI_CreateAndGetRun(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/runs", `{
		"workflow_id": "wf1",
		"executions": [
			{
				"session_id": "s1",
				"input": "what is 2+2?",
				"expected_output": "4",
				"output": "4",
				"duration": 1.5,
				"total_tokens": 42,
				"evaluations": [
					{
						"metric_name": "output_score",
						"metric_value": 0.8,
						"metric_reason": ""
					}
				]
			}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Contains(t, created, "id")

	id := int(created["id"].(float64))
	require.Positive(t, id)

	rec = doRequest(t, router, http.MethodGet,
		"/api/runs/"+strconv.Itoa(id), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run struct {
		ID            uint             `json:"id"`
		WorkflowID    string           `json:"workflowId"`
		Version       string           `json:"version"`
		QuestionCount int              `json:"questionCount"`
		Questions     []map[string]any `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	assert.Equal(t, "wf1", run.WorkflowID)
	assert.Equal(t, 1, run.QuestionCount)
	require.Len(t, run.Questions, 1)

	question := run.Questions[0]
	assert.Equal(t, "4", question["output"])
	assert.Equal(t, float64(42), question["totalTokens"])

	score, ok := question["outputScore"].(map[string]any)
	require.True(t, ok, "outputScore should be a metric object")
	assert.Equal(t, 0.8, score["value"])
	assert.Equal(t, "", score["reason"])
}

func TestAPI_ProjectShapeConsistency(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/runs",
		`{"workflow_id": "rag_pipeline", "executions": [{"input": "q"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	listRec := doRequest(t, router, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, listRec.Code)

	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	// Any project id resolves to the same singleton.
	oneRec := doRequest(t, router, http.MethodGet, "/api/projects/123", "")
	require.Equal(t, http.StatusOK, oneRec.Code)

	assert.JSONEq(t, string(list[0]), oneRec.Body.String())

	var project struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		Workflows []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(oneRec.Body.Bytes(), &project))
	assert.Equal(t, 1, project.ID)
	require.Len(t, project.Workflows, 1)
	assert.Equal(t, "rag_pipeline", project.Workflows[0].ID)
	assert.Equal(t, "rag pipeline", project.Workflows[0].Name)
}

func TestAPI_GetRunNotFound(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/runs/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "not found")
}

func TestAPI_GetRunInvalidID(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/runs/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateRunInvalidBody(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/runs", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateRunRequiresWorkflow(t *testing.T) {
	router := setupTestAPI(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/runs",
		`{"executions": []}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed to create run", body.Error)
	assert.NotEmpty(t, body.Details)
}

func TestAPI_CompareRuns(t *testing.T) {
	router := setupTestAPI(t, nil)

	baseline := `{
		"workflow_id": "wf1",
		"executions": [{
			"input": "q",
			"evaluations": [{"metric_name": "output_score", "metric_value": 0.5}]
		}]
	}`
	current := `{
		"workflow_id": "wf1",
		"executions": [{
			"input": "q",
			"evaluations": [{"metric_name": "output_score", "metric_value": 0.75}]
		}]
	}`

	rec := doRequest(t, router, http.MethodPost, "/api/runs", baseline)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/runs", current)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/runs/2/compare/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cmp struct {
		RunID      uint `json:"runId"`
		BaselineID uint `json:"baselineRunId"`
		Metrics    []struct {
			Key   string   `json:"key"`
			Delta *float64 `json:"delta"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))

	require.Len(t, cmp.Metrics, 1)
	assert.Equal(t, "outputScore", cmp.Metrics[0].Key)
	require.NotNil(t, cmp.Metrics[0].Delta)
	assert.InDelta(t, 50.0, *cmp.Metrics[0].Delta, 0.001)
}

func TestAPI_BasicAuth(t *testing.T) {
	cfg := &config.Config{
		Auth: config.AuthConfig{
			Enabled: true,
			Users: []config.BasicAuthUser{
				{Username: "ci", Password: "secret"},
			},
		},
	}
	router := setupTestAPI(t, cfg)

	body := `{"workflow_id": "wf1", "executions": []}`

	// Reads stay open.
	rec := doRequest(t, router, http.MethodGet, "/api/projects", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Writes require credentials.
	rec = doRequest(t, router, http.MethodPost, "/api/runs", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/api/runs",
		strings.NewReader(body))
	req.SetBasicAuth("ci", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/runs",
		strings.NewReader(body))
	req.SetBasicAuth("ci", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAPI_RateLimit(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			RateLimit: config.RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 1,
			},
		},
	}
	router := setupTestAPI(t, cfg)

	body := `{"workflow_id": "wf1", "executions": []}`

	rec := doRequest(t, router, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/runs", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not rate limited.
	rec = doRequest(t, router, http.MethodGet, "/api/projects", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
