package confhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/keydir/internal/keyfile"
	"github.com/keithlinneman/keydir/internal/log"
)

// SnapshotProvider defines the interface for reading the active snapshot.
type SnapshotProvider interface {
	Current() *keyfile.Snapshot
}

// Reloader triggers an on-demand snapshot rebuild.
type Reloader interface {
	Reload(ctx context.Context) error
}

// API implements the configuration query endpoints
type API struct {
	store    SnapshotProvider
	reloader Reloader
	logger   log.Logger
}

// NewAPI creates a new configuration API handler. reloader may be nil when
// on-demand reloads are disabled; the reload endpoint then returns 404.
func NewAPI(store SnapshotProvider, reloader Reloader, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		store:    store,
		reloader: reloader,
		logger:   logger,
	}
}

// RegisterRoutes attaches configuration endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", api.HandleSnapshot)
	r.Get("/api/config/keys", api.HandleKeys)
	r.Get("/api/config/values/{key}", api.HandleValue)
	if api.reloader != nil {
		r.Post("/api/config/reload", api.HandleReload)
	}
}

// SnapshotResponse is the full snapshot dump: metadata plus every key/value.
type SnapshotResponse struct {
	Meta   SnapshotMeta      `json:"meta"`
	Values map[string]string `json:"values"`
}

// SnapshotMeta describes the active snapshot without its values.
type SnapshotMeta struct {
	Source     string    `json:"source"`
	Checksum   string    `json:"checksum"`
	KeyCount   int       `json:"key_count"`
	BuiltAt    time.Time `json:"built_at"`
	ServerTime time.Time `json:"server_time"`
}

// KeysResponse lists the snapshot's keys in sorted order.
type KeysResponse struct {
	Meta SnapshotMeta `json:"meta"`
	Keys []string     `json:"keys"`
}

// ValueResponse carries a single key lookup result.
type ValueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ReloadResponse reports the snapshot that is active after a reload.
type ReloadResponse struct {
	Reloaded bool         `json:"reloaded"`
	Meta     SnapshotMeta `json:"meta"`
	Error    string       `json:"error,omitempty"`
}

func snapshotMeta(snap *keyfile.Snapshot) SnapshotMeta {
	return SnapshotMeta{
		Source:     snap.Source(),
		Checksum:   snap.Checksum(),
		KeyCount:   snap.Len(),
		BuiltAt:    snap.BuiltAt().Truncate(time.Second),
		ServerTime: time.Now().UTC().Truncate(time.Second),
	}
}

// HandleSnapshot serves the full snapshot: metadata and all values.
func (api *API) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := api.store.Current()
	if snap == nil {
		http.Error(w, `{"error":"no snapshot loaded"}`, http.StatusServiceUnavailable)
		return
	}

	resp := SnapshotResponse{
		Meta:   snapshotMeta(snap),
		Values: snap.All(),
	}

	api.logger.Debug(ctx, "served config snapshot",
		"checksum", snap.Checksum(),
		"keys", snap.Len(),
	)

	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleKeys serves the sorted key list without values.
func (api *API) HandleKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := api.store.Current()
	if snap == nil {
		http.Error(w, `{"error":"no snapshot loaded"}`, http.StatusServiceUnavailable)
		return
	}

	resp := KeysResponse{
		Meta: snapshotMeta(snap),
		Keys: snap.Keys(),
	}

	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleValue serves a single value. Lookup is case-insensitive, matching
// the snapshot's semantics.
func (api *API) HandleValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := api.store.Current()
	if snap == nil {
		http.Error(w, `{"error":"no snapshot loaded"}`, http.StatusServiceUnavailable)
		return
	}

	key := chi.URLParam(r, "key")
	value, ok := snap.Lookup(key)
	if !ok {
		http.Error(w, `{"error":"key not found"}`, http.StatusNotFound)
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, ValueResponse{Key: key, Value: value})
}

// HandleReload rebuilds the snapshot from the source and reports the
// active snapshot afterwards. A failed rebuild leaves the previous
// snapshot serving and returns 502.
func (api *API) HandleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := api.reloader.Reload(ctx); err != nil {
		api.logger.Error(ctx, err, "on-demand reload failed")
		resp := ReloadResponse{Error: err.Error()}
		if snap := api.store.Current(); snap != nil {
			resp.Meta = snapshotMeta(snap)
		}
		api.writeJSON(ctx, w, http.StatusBadGateway, resp)
		return
	}

	snap := api.store.Current()
	if snap == nil {
		http.Error(w, `{"error":"no snapshot loaded"}`, http.StatusServiceUnavailable)
		return
	}

	api.logger.Info(ctx, "on-demand reload complete",
		"checksum", snap.Checksum(),
		"keys", snap.Len(),
	)

	api.writeJSON(ctx, w, http.StatusOK, ReloadResponse{
		Reloaded: true,
		Meta:     snapshotMeta(snap),
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
