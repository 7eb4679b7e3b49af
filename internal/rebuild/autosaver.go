package rebuild

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/colgraph"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
	"github.com/sheetbridge/sheetbridge-backend/internal/utils"
)

const autosaveFlushTimeout = 10 * time.Second

// DebounceWindowFromEnv reads AUTOSAVE_DEBOUNCE_MS, defaulting to one second.
func DebounceWindowFromEnv(log *logger.Logger) time.Duration {
	return utils.GetEnvAsMillis("AUTOSAVE_DEBOUNCE_MS", 1000, log)
}

// Autosaver coalesces rapid mapping edits into one debounced save. Each Touch
// restarts the window, so a burst of drag edits produces a single store
// write. Structural rebuilds force-save their own result, so Touch is refused
// while the guard is held.
type Autosaver struct {
	log       *logger.Logger
	store     store.SessionStore
	graph     *colgraph.Graph
	sessionID uuid.UUID
	guard     *Guard
	window    time.Duration

	mu    sync.Mutex
	timer *time.Timer
	dirty bool
}

func NewAutosaver(baseLog *logger.Logger, st store.SessionStore, graph *colgraph.Graph, sessionID uuid.UUID, guard *Guard, window time.Duration) *Autosaver {
	return &Autosaver{
		log:       baseLog.With("component", "Autosaver", "session_id", sessionID),
		store:     st,
		graph:     graph,
		sessionID: sessionID,
		guard:     guard,
		window:    window,
	}
}

// Touch records that the graph changed and (re)starts the debounce window.
func (a *Autosaver) Touch() error {
	if a.guard.Busy() {
		return apperr.ErrRebuildInProgress
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirty = true
	if a.timer == nil {
		a.timer = time.AfterFunc(a.window, a.fire)
	} else {
		a.timer.Reset(a.window)
	}
	return nil
}

func (a *Autosaver) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), autosaveFlushTimeout)
	defer cancel()
	if err := a.flush(ctx, false); err != nil {
		a.log.Warn("Autosave failed, edits stay dirty", "error", err)
	}
}

// Flush saves immediately regardless of the debounce window or dirty state.
func (a *Autosaver) Flush(ctx context.Context) error {
	return a.flush(ctx, true)
}

func (a *Autosaver) flush(ctx context.Context, forced bool) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	dirty := a.dirty
	a.dirty = false
	a.mu.Unlock()

	if !forced {
		if !dirty {
			return nil
		}
		// A rebuild is about to force-save the authoritative state anyway.
		if a.guard.Busy() {
			return nil
		}
	}

	req := store.SaveMappingsRequest{
		Mappings:      a.graph.LabelPairs(),
		DefaultValues: a.graph.DefaultValues(),
	}
	if err := a.store.SaveMappings(ctx, a.sessionID, req); err != nil {
		a.mu.Lock()
		a.dirty = true
		a.mu.Unlock()
		return err
	}
	return nil
}

// Stop cancels any pending debounced save without writing.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
