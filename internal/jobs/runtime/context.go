package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sheetbridge/sheetbridge-backend/internal/repos"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

// Context is the execution handle for a single claimed job run. Handlers
// never touch the job_run row directly; completion, failure and heartbeats
// all go through this object.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	payload map[string]any
}

// NewContext eagerly decodes the job payload so handlers can read inputs via
// Payload()/PayloadUUID(). A malformed payload leaves an empty map; handlers
// validate the fields they require.
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	c.decodePayload()
	return c
}

func (c *Context) decodePayload() {
	c.payload = map[string]any{}
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err == nil {
		c.payload = m
	}
}

func (c *Context) Payload() map[string]any {
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	raw, ok := c.payload[key].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) Heartbeat() {
	if c.Job == nil {
		return
	}
	_ = c.Repo.Heartbeat(c.Ctx, nil, c.Job.ID)
}

func (c *Context) Succeed() {
	if c.Job == nil {
		return
	}
	now := time.Now()
	_ = c.Repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]interface{}{
		"status":      types.JobStatusSucceeded,
		"finished_at": now,
	})
}

func (c *Context) Fail(stage string, err error) {
	if c.Job == nil {
		return
	}
	now := time.Now()
	msg := stage
	if err != nil {
		msg = stage + ": " + err.Error()
	}
	_ = c.Repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"last_error":    msg,
		"last_error_at": now,
		"finished_at":   now,
	})
}
