package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
)

// SessionStoreClient talks to the session-store HTTP API. It validates
// formula rules locally before a commit: a malformed rule never reaches the
// server.
type SessionStoreClient struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewSessionStoreClient(baseURL string, baseLog *logger.Logger) *SessionStoreClient {
	return &SessionStoreClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     baseLog.With("component", "SessionStoreClient"),
	}
}

var _ store.SessionStore = (*SessionStoreClient)(nil)

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *SessionStoreClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.ErrNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return apperr.ErrRebuildInProgress
	}
	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, envelope.Error.Message, envelope.Error.Code)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *SessionStoreClient) GetHeaders(ctx context.Context, sessionID uuid.UUID) (*store.Headers, error) {
	var out store.Headers
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID.String()+"/headers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionStoreClient) SaveMappings(ctx context.Context, sessionID uuid.UUID, req store.SaveMappingsRequest) error {
	return c.do(ctx, http.MethodPut, "/api/sessions/"+sessionID.String()+"/mappings", req, nil)
}

func (c *SessionStoreClient) UpdateColumnCounts(ctx context.Context, sessionID uuid.UUID, counts schema.Counts) (*store.UpdateCountsResult, error) {
	if err := schema.Validate(counts); err != nil {
		return nil, err
	}
	var out store.UpdateCountsResult
	if err := c.do(ctx, http.MethodPut, "/api/sessions/"+sessionID.String()+"/column-counts", counts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionStoreClient) ApplyFormulaRules(ctx context.Context, sessionID uuid.UUID, rs []rules.Rule) (*store.ApplyResult, error) {
	if err := rules.ValidateAll(rs); err != nil {
		return nil, err
	}
	var out store.ApplyResult
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID.String()+"/formula-rules", map[string]any{"rules": rs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionStoreClient) PreviewFormulaRules(ctx context.Context, sessionID uuid.UUID, rs []rules.Rule, sampleSize int) (*rules.Preview, error) {
	if err := rules.ValidateAll(rs); err != nil {
		return nil, err
	}
	var out rules.Preview
	body := map[string]any{"rules": rs, "sampleSize": sampleSize}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID.String()+"/formula-rules/preview", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionStoreClient) ClearFormulaRules(ctx context.Context, sessionID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+sessionID.String()+"/formula-rules", nil, nil)
}

func (c *SessionStoreClient) GetSessionVersion(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var out struct {
		Version int `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID.String()+"/version", nil, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *SessionStoreClient) GetRows(ctx context.Context, sessionID uuid.UUID, page int) (*store.RowsPage, error) {
	var out store.RowsPage
	path := "/api/sessions/" + sessionID.String() + "/rows?page=" + strconv.Itoa(page)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
