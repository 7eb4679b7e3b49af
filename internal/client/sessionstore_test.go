package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
)

func testClient(t *testing.T, handler http.HandlerFunc) *SessionStoreClient {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSessionStoreClient(srv.URL, log)
}

func TestGetSessionVersion(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method: want=GET got=%s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"version": 7})
	})
	v, err := c.GetSessionVersion(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetSessionVersion: %v", err)
	}
	if v != 7 {
		t.Fatalf("version: want=7 got=%d", v)
	}
}

func TestStatusMapping(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions/00000000-0000-0000-0000-000000000001/headers":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusConflict)
		}
	})

	missing := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	if _, err := c.GetHeaders(context.Background(), missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("404: want ErrNotFound, got %v", err)
	}
	if _, err := c.UpdateColumnCounts(context.Background(), uuid.New(), schema.Counts{TagCount: 1}); !errors.Is(err, apperr.ErrRebuildInProgress) {
		t.Fatalf("409: want ErrRebuildInProgress, got %v", err)
	}
}

func TestApplyValidatesBeforeSending(t *testing.T) {
	called := false
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	bad := []rules.Rule{{ColumnType: rules.ColumnTypeTag}}
	_, err := c.ApplyFormulaRules(context.Background(), uuid.New(), bad)
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if called {
		t.Fatalf("malformed rule must never reach the server")
	}
}

func TestUpdateColumnCountsRoundTrip(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var counts schema.Counts
		if err := json.NewDecoder(r.Body).Decode(&counts); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if counts.TagCount != 2 {
			t.Errorf("tagCount: want=2 got=%d", counts.TagCount)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":                 true,
			"regeneratedTargetLabels": []string{"Tag_1", "Tag_2"},
		})
	})
	res, err := c.UpdateColumnCounts(context.Background(), uuid.New(), schema.Counts{TagCount: 2})
	if err != nil {
		t.Fatalf("UpdateColumnCounts: %v", err)
	}
	if !res.Success || len(res.RegeneratedTargetLabels) != 2 {
		t.Fatalf("result: %+v", res)
	}
}
