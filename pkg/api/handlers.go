package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"txn-density-map/pkg/pipeline"
	"txn-density-map/pkg/snapshot"
)

// sampleDisplayCap limits how many source records a feature carries to the
// browser; the popup shows at most this many anyway.
const sampleDisplayCap = 3

// Handler wires the snapshot store, change bus and poller kick into HTTP
// routes so each handler stays small and focused on translating query
// parameters into a filtered view of the current snapshot.
type Handler struct {
	Store        *snapshot.Store
	Bus          *snapshot.Bus
	Kick         chan<- struct{}
	Cache        *ResponseCache
	Limiter      *RateLimiter
	PollInterval time.Duration
	Logf         func(string, ...any)
}

// NewHandler constructs a Handler with sane defaults.
// Logf is optional; pass nil if logging is not required.
func NewHandler(store *snapshot.Store, bus *snapshot.Bus, kick chan<- struct{}, cache *ResponseCache, limiter *RateLimiter, pollInterval time.Duration, logf func(string, ...any)) *Handler {
	return &Handler{
		Store:        store,
		Bus:          bus,
		Kick:         kick,
		Cache:        cache,
		Limiter:      limiter,
		PollInterval: pollInterval,
		Logf:         logf,
	}
}

// Register attaches API routes to the provided mux. The method stays tiny
// and declarative: URLs to helpers, no clever routing.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleOverview)
	mux.HandleFunc("/api/features", h.handleFeatures)
	mux.HandleFunc("/api/pincodes", h.handlePincodes)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/refresh", h.handleRefresh)
	mux.HandleFunc("/api/export.csv", h.handleExportCSV)
	mux.HandleFunc("/events", h.handleEvents)
	mux.HandleFunc("/qr.png", h.handleShareQR)
}

// Feature is one renderable density bucket: placement, weight, the derived
// visual attributes, and a short sample of source records for the popup.
type Feature struct {
	Pincode string                `json:"pincode"`
	Coords  pipeline.Coordinate   `json:"coords"`
	Count   int                   `json:"count"`
	Tier    int                   `json:"tier"`
	Color   string                `json:"color"`
	Radius  float64               `json:"radius"`
	Samples []*pipeline.RawRecord `json:"samples"`
}

// handleOverview publishes machine-readable docs so developers understand
// which endpoints to call without reading source.
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	snap := h.Store.Current()

	overview := struct {
		Service   string         `json:"service"`
		Version   string         `json:"snapshotVersion"`
		Endpoints map[string]any `json:"endpoints"`
	}{
		Service: "txn-density-map",
		Version: snap.Version,
		Endpoints: map[string]any{
			"features": map[string]any{
				"method":      "GET",
				"path":        "/api/features",
				"query":       []string{"minLat", "minLon", "maxLat", "maxLon", "zoom", "pincode", "limit"},
				"description": "Returns density features inside the viewport. Omit the bounds to get the first buckets up to the cap.",
			},
			"pincodes": map[string]any{
				"method":      "GET",
				"path":        "/api/pincodes",
				"description": "Returns the sorted list of postal codes that own at least one feature.",
			},
			"status": map[string]any{
				"method":      "GET",
				"path":        "/api/status",
				"description": "Returns snapshot version, fetch time, batch counters and the last upstream error.",
			},
			"refresh": map[string]any{
				"method":      "POST",
				"path":        "/api/refresh",
				"description": "Asks the poller to refetch the upstream sheet right away.",
			},
			"exportCSV": map[string]any{
				"method":      "GET",
				"path":        "/api/export.csv",
				"description": "Downloads every bucket of the current snapshot as CSV. Rate limited per IP.",
			},
			"events": map[string]any{
				"method":      "GET",
				"path":        "/events",
				"description": "Server-sent events; one 'version' event per snapshot change.",
			},
		},
	}

	h.respondJSON(w, overview)
}

// handleFeatures applies the view filter and visual calculator to the
// current snapshot. The viewport needs all four edges; anything less
// counts as no viewport and falls back to the capped prefix. Responses are
// cached under the snapshot version, so a rebuild naturally invalidates
// every stale entry.
func (h *Handler) handleFeatures(w http.ResponseWriter, r *http.Request) {
	permit, ok := h.acquire(w, r, RequestGeneral)
	if !ok {
		return
	}
	defer permit.Release()

	snap := h.Store.Current()
	key := "features|" + snap.Version + "|" + r.URL.RawQuery

	h.respondCached(w, r, key, func(context.Context) ([]byte, error) {
		q := r.URL.Query()
		zoom := parseFloatDefault(q.Get("zoom"), 0)
		pincode := q.Get("pincode")

		var bounds *pipeline.Bounds
		minLat, okMinLat := parseFloat(q.Get("minLat"))
		minLon, okMinLon := parseFloat(q.Get("minLon"))
		maxLat, okMaxLat := parseFloat(q.Get("maxLat"))
		maxLon, okMaxLon := parseFloat(q.Get("maxLon"))
		if okMinLat && okMinLon && okMaxLat && okMaxLon {
			bounds = &pipeline.Bounds{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
		}

		buckets := pipeline.Filter(snap.Result.Buckets, pincode, bounds)
		if raw := q.Get("limit"); raw != "" {
			limit := clampInt(parseIntDefault(raw, len(buckets)), 1, 5000)
			if limit < len(buckets) {
				buckets = buckets[:limit]
			}
		}

		features := make([]Feature, 0, len(buckets))
		for _, b := range buckets {
			features = append(features, Feature{
				Pincode: b.Pincode,
				Coords:  b.Coords,
				Count:   b.Count,
				Tier:    pipeline.Tier(b.Count),
				Color:   pipeline.TierColor(b.Count),
				Radius:  pipeline.Radius(b.Count, zoom),
				Samples: trimSamples(b.Samples),
			})
		}

		resp := struct {
			Version      string    `json:"version"`
			Zoom         float64   `json:"zoom"`
			Pincode      string    `json:"pincode,omitempty"`
			TotalBuckets int       `json:"totalBuckets"`
			Returned     int       `json:"returned"`
			Features     []Feature `json:"features"`
		}{
			Version:      snap.Version,
			Zoom:         zoom,
			Pincode:      pincode,
			TotalBuckets: len(snap.Result.Buckets),
			Returned:     len(features),
			Features:     features,
		}
		return marshalIndented(resp)
	})
}

// handlePincodes serves the dropdown list.
func (h *Handler) handlePincodes(w http.ResponseWriter, r *http.Request) {
	permit, ok := h.acquire(w, r, RequestGeneral)
	if !ok {
		return
	}
	defer permit.Release()

	snap := h.Store.Current()
	key := "pincodes|" + snap.Version

	h.respondCached(w, r, key, func(context.Context) ([]byte, error) {
		resp := struct {
			Version  string   `json:"version"`
			Pincodes []string `json:"pincodes"`
		}{
			Version:  snap.Version,
			Pincodes: snap.Result.Pincodes,
		}
		return marshalIndented(resp)
	})
}

// handleStatus reports snapshot health for the dashboard's footer and for
// anyone curl-ing the service.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	permit, ok := h.acquire(w, r, RequestGeneral)
	if !ok {
		return
	}
	defer permit.Release()

	snap := h.Store.Current()

	resp := struct {
		Version      string         `json:"version"`
		FetchedAt    time.Time      `json:"fetchedAt"`
		ContentHash  string         `json:"contentHash,omitempty"`
		PollInterval string         `json:"pollInterval"`
		Stats        pipeline.Stats `json:"stats"`
		Buckets      int            `json:"buckets"`
		Pincodes     int            `json:"pincodes"`
		LastError    string         `json:"lastError,omitempty"`
		ErrorAt      *time.Time     `json:"errorAt,omitempty"`
	}{
		Version:      snap.Version,
		FetchedAt:    snap.FetchedAt,
		ContentHash:  snap.ContentHash,
		PollInterval: h.PollInterval.String(),
		Stats:        snap.Result.Stats,
		Buckets:      len(snap.Result.Buckets),
		Pincodes:     len(snap.Result.Pincodes),
		LastError:    snap.LastError,
	}
	if !snap.ErrorAt.IsZero() {
		t := snap.ErrorAt
		resp.ErrorAt = &t
	}

	h.respondJSON(w, resp)
}

// handleRefresh nudges the poller. The kick channel send is non-blocking:
// if a cycle is already queued the button press merges into it.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	permit, ok := h.acquire(w, r, RequestGeneral)
	if !ok {
		return
	}
	defer permit.Release()

	if h.Kick != nil {
		select {
		case h.Kick <- struct{}{}:
		default:
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	h.respondJSON(w, struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}{
		Status:  "refresh requested",
		Version: h.Store.Current().Version,
	})
}

// handleExportCSV streams the whole current bucket set. Radius is a live
// view attribute, so the export carries the zoom-independent columns only.
func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	permit, ok := h.acquire(w, r, RequestHeavy)
	if !ok {
		return
	}
	defer permit.Release()

	snap := h.Store.Current()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(snap.Version)))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"pincode", "lat", "lon", "count", "tier", "color"})
	for _, b := range snap.Result.Buckets {
		_ = cw.Write([]string{
			b.Pincode,
			strconv.FormatFloat(b.Coords.Lat, 'f', -1, 64),
			strconv.FormatFloat(b.Coords.Lon, 'f', -1, 64),
			strconv.Itoa(b.Count),
			strconv.Itoa(pipeline.Tier(b.Count)),
			pipeline.TierColor(b.Count),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil && h.Logf != nil {
		h.Logf("csv export: %v", err)
	}
}

// handleEvents streams snapshot version changes via Server-Sent Events.
// The first event carries the current version so a freshly connected
// dashboard can tell whether it is stale. No permit here: the stream is
// long-lived and would otherwise hold its IP's queue slot forever.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	ctx := r.Context()
	events := h.Bus.Subscribe(ctx, 8)

	fmt.Fprintf(w, "event: version\ndata: %s\n\n", h.Store.Current().Version)
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case version, open := <-events:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: version\ndata: %s\n\n", version)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// =====================
// Utility helpers
// =====================

// acquire runs the request through the per-IP limiter and reports noticeable
// waits. A false return means the response is already written.
func (h *Handler) acquire(w http.ResponseWriter, r *http.Request, kind RequestKind) (*Permit, bool) {
	permit, err := h.Limiter.Acquire(r.Context(), clientIP(r), kind)
	if err != nil {
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return nil, false
	}
	if permit != nil && permit.WaitNotice && h.Logf != nil {
		h.Logf("api: %s waited %s for %s", clientIP(r), permit.WaitDuration, r.URL.Path)
	}
	return permit, true
}

// respondCached serves through the response cache when one is configured
// and falls back to building directly when it is not.
func (h *Handler) respondCached(w http.ResponseWriter, r *http.Request, key string, build func(context.Context) ([]byte, error)) {
	data, err := h.Cache.Get(r.Context(), key, build)
	if errors.Is(err, errCacheDisabled) {
		data, err = build(r.Context())
	}
	if err != nil {
		http.Error(w, "response build error", http.StatusInternalServerError)
		if h.Logf != nil {
			h.Logf("api: build %s: %v", r.URL.Path, err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func marshalIndented(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// trimSamples keeps the payload small; the popup never shows more than the
// display cap anyway.
func trimSamples(samples []*pipeline.RawRecord) []*pipeline.RawRecord {
	if len(samples) <= sampleDisplayCap {
		return samples
	}
	return samples[:sampleDisplayCap]
}

func exportFilename(version string) string {
	short := version
	if len(short) > 8 {
		short = short[:8]
	}
	return "txn-density-" + short + ".csv"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseFloat(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseFloatDefault(v string, def float64) float64 {
	f, ok := parseFloat(v)
	if !ok {
		return def
	}
	return f
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
