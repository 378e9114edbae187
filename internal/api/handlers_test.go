// handlers_test.go - HTTP level tests for the case API
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/config"
	"github.com/Kiwi1009/interview-to-quote/internal/document"
	"github.com/Kiwi1009/interview-to-quote/internal/extraction"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
	"github.com/Kiwi1009/interview-to-quote/internal/pricing"
	"github.com/Kiwi1009/interview-to-quote/internal/testutil"
	"github.com/Kiwi1009/interview-to-quote/internal/upload"
	"github.com/Kiwi1009/interview-to-quote/internal/workflow"
)

type server struct {
	e    *echo.Echo
	fake *testutil.FakeExtractor
	cfg  *config.AppConfig
}

func newServer(t *testing.T, mutate func(cfg *config.AppConfig)) *server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Advanced.EnableRequestLogging = false
	cfg.Processing.EnableCompression = false
	if mutate != nil {
		mutate(cfg)
	}

	db, err := casedb.Open(filepath.Join(t.TempDir(), "cases.duckdb"), casedb.Options{Threads: 1})
	require.NoError(t, err)

	blobs := testutil.NewMockStorage()
	uploads := upload.NewManager(db, blobs, nil, nil)
	fake := testutil.NewFakeExtractor()
	orch := extraction.New(db, uploads, fake, extraction.Options{PollInterval: 10 * time.Millisecond, MaxWait: 5 * time.Second, Workers: 2}, nil)
	engine := pricing.NewEngine(db, orch, nil, nil)
	pdf, err := document.NewPDFRenderer("")
	require.NoError(t, err)
	docs := document.NewService(db, orch, engine, blobs, nil, document.DOCXRenderer{}, pdf)
	wf := workflow.New(db, uploads, orch, engine, docs, workflow.Options{PollInterval: 10 * time.Millisecond, MaxWait: 5 * time.Second}, nil)
	jobs := workflow.NewJobManager(wf, time.Minute, nil)

	e := echo.New()
	SetupMiddleware(e, cfg, nil)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		DB:         db,
		Workflow:   wf,
		Jobs:       jobs,
		UploadMgr:  uploads,
		Extraction: orch,
		Pricing:    engine,
		Documents:  docs,
		Security:   cfg.Security,
		Version:    "test",
	}), cfg.Security)

	t.Cleanup(func() {
		jobs.Wait()
		orch.Wait()
		db.Close()
	})
	return &server{e: e, fake: fake, cfg: cfg}
}

func (s *server) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

type part struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, parts ...part) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, p := range parts {
		w, err := writer.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *server) createCase(t *testing.T, token string) models.Case {
	t.Helper()
	req := jsonRequest(http.MethodPost, "/api/cases", map[string]string{"title": "ACME 自動化產線"})
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := s.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c models.Case
	decode(t, rec, &c)
	return c
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestManualFlow(t *testing.T) {
	s := newServer(t, nil)
	c := s.createCase(t, "")
	assert.Equal(t, models.CaseDraft, c.Status)
	assert.Equal(t, AnonymousOwner, c.Owner)

	// Upload the transcript
	rec := s.do(t, multipartRequest(t, "/api/cases/"+c.ID+"/uploads", nil,
		part{"file", "acme.txt", []byte(testutil.ACMETranscript)}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var up models.Upload
	decode(t, rec, &up)
	assert.Equal(t, models.UploadTranscript, up.Type)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID+"/uploads", nil))
	var ups []models.Upload
	decode(t, rec, &ups)
	assert.Len(t, ups, 1)

	// Start extraction and poll the run
	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/extract", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var run models.ExtractionRun
	decode(t, rec, &run)
	assert.Equal(t, 1, run.Version)

	require.Eventually(t, func() bool {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/cases/runs/"+run.ID, nil))
		var r models.ExtractionRun
		if json.Unmarshal(rec.Body.Bytes(), &r) != nil {
			return false
		}
		return r.Status == models.RunCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID+"/runs", nil))
	var runs []models.ExtractionRun
	decode(t, rec, &runs)
	assert.Len(t, runs, 1)

	// Requirements as MessagePack
	req := httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID+"/requirements", nil)
	req.Header.Set(echo.HeaderAccept, MIMEMsgpack)
	rec = s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEMsgpack, rec.Header().Get(echo.HeaderContentType))
	var packed map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	assert.Equal(t, run.ID, packed["run_id"])
	assert.Contains(t, packed, "jsonb_data")

	// Edit requirements
	data := testutil.CompleteRequirements()
	data["options"] = map[string]interface{}{"robot_count": 3}
	rec = s.do(t, jsonRequest(http.MethodPut, "/api/cases/"+c.ID+"/requirements?run_id="+run.ID, data))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reqs models.Requirements
	decode(t, rec, &reqs)
	assert.Equal(t, map[string]interface{}{"robot_count": float64(3)}, reqs.Data["options"])

	// Plans
	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/generate-plans", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var plans []pricing.PricedPlan
	decode(t, rec, &plans)
	require.Len(t, plans, 3)
	for _, p := range plans {
		assert.Greater(t, p.Totals.TotalHigh, p.Totals.TotalLow)
		if p.Code == models.PlanP1 {
			assert.Equal(t, float64(3), p.Assumptions["robots"])
		}
	}

	name := "P1 經濟方案（修訂）"
	rec = s.do(t, jsonRequest(http.MethodPut, "/api/plans/"+plans[0].ID, pricing.PlanPatch{
		Name:        &name,
		RemoveItems: []string{plans[0].Items[0].ID},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edited pricing.PricedPlan
	decode(t, rec, &edited)
	assert.Equal(t, name, edited.Name)
	assert.Len(t, edited.Items, len(plans[0].Items)-1)
	assert.Less(t, edited.Totals.SubtotalLow, plans[0].Totals.SubtotalLow)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID+"/plans", nil))
	var listed []pricing.PricedPlan
	decode(t, rec, &listed)
	assert.Len(t, listed, 3)

	// Documents
	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/documents?types=quote,%20spec&formats=docx", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var docs []models.Document
	decode(t, rec, &docs)
	require.Len(t, docs, 2)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+docs[0].ID+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fmt.Sprintf("attachment; filename=%q", docs[0].Filename()), rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, models.FormatDOCX.ContentType(), rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID, nil))
	var final models.Case
	decode(t, rec, &final)
	assert.Equal(t, models.CaseQuoted, final.Status)

	// Archive
	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/extract", nil))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Contains(t, rec.Body.String(), "PRECONDITION_FAILED")
}

func TestErrorResponses(t *testing.T) {
	s := newServer(t, nil)
	c := s.createCase(t, "")

	tests := []struct {
		name     string
		req      *http.Request
		status   int
		wantCode string
	}{
		{
			name:     "empty title",
			req:      jsonRequest(http.MethodPost, "/api/cases", map[string]string{"title": " "}),
			status:   http.StatusBadRequest,
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "unknown case",
			req:      httptest.NewRequest(http.MethodGet, "/api/cases/nope", nil),
			status:   http.StatusNotFound,
			wantCode: "NOT_FOUND",
		},
		{
			name:     "extract without transcript",
			req:      httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/extract", nil),
			status:   http.StatusPreconditionFailed,
			wantCode: "PRECONDITION_FAILED",
		},
		{
			name:     "plans without requirements",
			req:      httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/generate-plans", nil),
			status:   http.StatusPreconditionFailed,
			wantCode: "PRECONDITION_FAILED",
		},
		{
			name:     "upload without file",
			req:      multipartRequest(t, "/api/cases/"+c.ID+"/uploads", map[string]string{"type": "photo"}),
			status:   http.StatusBadRequest,
			wantCode: "BAD_REQUEST",
		},
		{
			name:     "unknown document format",
			req:      httptest.NewRequest(http.MethodPost, "/api/cases/"+c.ID+"/documents?formats=odt", nil),
			status:   http.StatusBadRequest,
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "unknown plan",
			req:      httptest.NewRequest(http.MethodGet, "/api/plans/missing", nil),
			status:   http.StatusNotFound,
			wantCode: "NOT_FOUND",
		},
		{
			name:     "unknown pipeline job",
			req:      httptest.NewRequest(http.MethodGet, "/api/pipelines/missing", nil),
			status:   http.StatusNotFound,
			wantCode: "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body APIError
			decode(t, rec, &body)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", models.E(models.KindValidation, "op", "bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", models.E(models.KindConflict, "op", "busy"), http.StatusConflict, "CONFLICT"},
		{"timeout", models.E(models.KindTimeout, "op", "slow"), http.StatusGatewayTimeout, "TIMEOUT"},
		{"extraction", models.E(models.KindExtractionFailed, "op", "llm down"), http.StatusBadGateway, "EXTRACTION_FAILED"},
		{"wrapped not found", fmt.Errorf("loading: %w", models.NotFound("op", "case", "x")), http.StatusNotFound, "NOT_FOUND"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err, false)
			assert.Equal(t, tt.status, got.Status)
			if tt.code != "" {
				assert.Equal(t, tt.code, got.Code)
			}
		})
	}

	assert.Empty(t, FromError(errors.New("secret"), false).Details)
	assert.Equal(t, "secret", FromError(errors.New("secret"), true).Details)
}

func TestAuth(t *testing.T) {
	s := newServer(t, func(cfg *config.AppConfig) {
		cfg.Security.RequireAuth = true
		cfg.Security.JWTSecret = "test-secret"
		cfg.Security.Users = []config.UserConfig{
			{Username: "alice", Password: "wonderland"},
			{Username: "bob", Password: "builder"},
		}
	})

	login := func(user, pass string) *httptest.ResponseRecorder {
		return s.do(t, jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{"username": user, "password": pass}))
	}
	token := func(user, pass string) string {
		rec := login(user, pass)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out struct {
			Token string `json:"token"`
		}
		decode(t, rec, &out)
		require.NotEmpty(t, out.Token)
		return out.Token
	}

	assert.Equal(t, http.StatusUnauthorized, login("alice", "wrong").Code)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/cases", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	// Health stays public
	assert.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)

	aliceToken := token("alice", "wonderland")
	bobToken := token("bob", "builder")
	c := s.createCase(t, aliceToken)
	assert.Equal(t, "alice", c.Owner)

	req = httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+aliceToken)
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/cases/"+c.ID, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+bobToken)
	assert.Equal(t, http.StatusNotFound, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+bobToken)
	rec = s.do(t, req)
	var bobCases []models.Case
	decode(t, rec, &bobCases)
	assert.Empty(t, bobCases)

	// A token signed with another secret is rejected
	other := config.SecurityConfig{JWTSecret: "other-secret"}
	forged, _, err := GenerateToken("alice", other)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)
}

func TestPipelineEndpoints(t *testing.T) {
	s := newServer(t, nil)
	c := s.createCase(t, "")

	rec := s.do(t, multipartRequest(t, "/api/cases/"+c.ID+"/process", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_INPUT")

	rec = s.do(t, multipartRequest(t, "/api/cases/"+c.ID+"/process", nil,
		part{"transcript", "acme.txt", []byte(testutil.ACMETranscript)},
		part{"photos", "broken.png", []byte("not an image")}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job models.PipelineJob
	decode(t, rec, &job)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/pipelines/"+job.ID, nil))
		var j models.PipelineJob
		if json.Unmarshal(rec.Body.Bytes(), &j) != nil {
			return false
		}
		job = j
		return j.Status.Done()
	}, 10*time.Second, 20*time.Millisecond)

	require.Equal(t, models.JobComplete, job.Status, job.Error)
	require.NotNil(t, job.Result)
	assert.Len(t, job.Result.Documents, 6)
	assert.Equal(t, []string{"broken.png"}, job.Result.SkippedPhotos)

	// The stream of a finished job replays the final state and ends
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/pipelines/"+job.ID+"/progress", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "))
	assert.Contains(t, body, `"status":"complete"`)
	assert.Equal(t, 1, strings.Count(body, "\n\n"))
}
