package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

type fakeSessionService struct {
	headers    *store.Headers
	countsErr  error
	applyErr   error
	version    int
	lastPage   int
	lastCounts schema.Counts
}

func (f *fakeSessionService) Create(ctx context.Context, sourceLabels, fixedLabels []string, rows []rules.Row) (*types.MappingSession, error) {
	if len(sourceLabels) == 0 {
		return nil, &apperr.ValidationError{Field: "sourceLabels", Reason: "must not be empty"}
	}
	return &types.MappingSession{ID: uuid.New(), Version: 1, RowCount: len(rows)}, nil
}

func (f *fakeSessionService) GetHeaders(ctx context.Context, id uuid.UUID) (*store.Headers, error) {
	if f.headers == nil {
		return nil, apperr.ErrNotFound
	}
	return f.headers, nil
}

func (f *fakeSessionService) SaveMappings(ctx context.Context, id uuid.UUID, req store.SaveMappingsRequest) error {
	return nil
}

func (f *fakeSessionService) UpdateColumnCounts(ctx context.Context, id uuid.UUID, counts schema.Counts) (*store.UpdateCountsResult, error) {
	if f.countsErr != nil {
		return nil, f.countsErr
	}
	f.lastCounts = counts
	return &store.UpdateCountsResult{Success: true, RegeneratedTargetLabels: []string{"Tag_1"}}, nil
}

func (f *fakeSessionService) ApplyFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule) (*store.ApplyResult, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return &store.ApplyResult{Success: true, RuleCount: len(rs)}, nil
}

func (f *fakeSessionService) PreviewFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule, sampleSize int) (*rules.Preview, error) {
	return &rules.Preview{}, nil
}

func (f *fakeSessionService) ClearFormulaRules(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeSessionService) GetVersion(ctx context.Context, id uuid.UUID) (int, error) {
	return f.version, nil
}

func (f *fakeSessionService) GetRows(ctx context.Context, id uuid.UUID, page int) (*store.RowsPage, error) {
	f.lastPage = page
	return &store.RowsPage{Page: page, PageSize: 100}, nil
}

func (f *fakeSessionService) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func testRouter(svc *fakeSessionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewSessionHandler(svc)
	r := gin.New()
	r.POST("/api/sessions", h.Create)
	r.GET("/api/sessions/:id/headers", h.GetHeaders)
	r.PUT("/api/sessions/:id/column-counts", h.UpdateColumnCounts)
	r.POST("/api/sessions/:id/formula-rules", h.ApplyFormulaRules)
	r.GET("/api/sessions/:id/version", h.GetVersion)
	r.GET("/api/sessions/:id/rows", h.GetRows)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	r := testRouter(&fakeSessionService{})
	w := doRequest(t, r, http.MethodPost, "/api/sessions", `{"sourceLabels":["A"],"rows":[{"A":"1"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["version"].(float64) != 1 || out["rowCount"].(float64) != 1 {
		t.Fatalf("body: %v", out)
	}
}

func TestCreateSessionRejectsEmptySources(t *testing.T) {
	r := testRouter(&fakeSessionService{})
	w := doRequest(t, r, http.MethodPost, "/api/sessions", `{"sourceLabels":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", w.Code)
	}
}

func TestInvalidSessionIDIsBadRequest(t *testing.T) {
	r := testRouter(&fakeSessionService{})
	w := doRequest(t, r, http.MethodGet, "/api/sessions/not-a-uuid/headers", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", w.Code)
	}
}

func TestMissingSessionIsNotFound(t *testing.T) {
	r := testRouter(&fakeSessionService{})
	w := doRequest(t, r, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/headers", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code: want=not_found got=%s", envelope.Error.Code)
	}
}

func TestBusySessionIsConflict(t *testing.T) {
	r := testRouter(&fakeSessionService{countsErr: apperr.ErrRebuildInProgress})
	w := doRequest(t, r, http.MethodPut, "/api/sessions/"+uuid.NewString()+"/column-counts", `{"tagCount":2}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: want=409 got=%d", w.Code)
	}
}

func TestApplyValidationFailureIsBadRequest(t *testing.T) {
	r := testRouter(&fakeSessionService{applyErr: &apperr.ValidationError{Field: "sourceColumn", Reason: "must not be empty"}})
	w := doRequest(t, r, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/formula-rules", `{"rules":[{}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", w.Code)
	}
}

func TestGetRowsDefaultsPage(t *testing.T) {
	svc := &fakeSessionService{}
	r := testRouter(svc)
	w := doRequest(t, r, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/rows", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", w.Code)
	}
	if svc.lastPage != 1 {
		t.Fatalf("page: want=1 got=%d", svc.lastPage)
	}
}

func TestGetVersionShape(t *testing.T) {
	r := testRouter(&fakeSessionService{version: 9})
	w := doRequest(t, r, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/version", "")
	var out map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["version"] != 9 {
		t.Fatalf("version: want=9 got=%d", out["version"])
	}
}
