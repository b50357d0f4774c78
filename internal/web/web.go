package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/merlokk/lambda.calendar.next.event/internal/config"
	"github.com/merlokk/lambda.calendar.next.event/internal/ics"
	appLog "github.com/merlokk/lambda.calendar.next.event/internal/log"
	"github.com/merlokk/lambda.calendar.next.event/internal/model"
	"github.com/merlokk/lambda.calendar.next.event/internal/schedule"
)

// Server provides the HTTP API over the occurrence engine.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	fetcher *ics.Fetcher

	// In-memory cache of computed responses keyed by (icsUrl, tz). The
	// cached value is immutable once stored; the engine never mutates it.
	cacheMu sync.RWMutex
	cache   map[string]*cachedResponse

	// now is swappable for tests.
	now func() time.Time
}

type cachedResponse struct {
	resp      nextEventResponse
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, fetcher *ics.Fetcher) *Server {
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		fetcher: fetcher,
		cache:   make(map[string]*cachedResponse),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password is treated as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calnext", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/next-event", s.handleNextEvent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// nextEventRequest is the JSON request body for /api/next-event.
type nextEventRequest struct {
	ICSUrl string `json:"icsUrl"`
	TZ     string `json:"tz"`
}

// occurrenceDTO is the serialized view of an occurrence. Start and end are
// wall-clock-with-offset strings in the requested zone, never raw UTC.
type occurrenceDTO struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
	Organizer string `json:"organizer,omitempty"`
	Status    string `json:"status,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// nextEventResponse is the JSON response envelope for /api/next-event.
type nextEventResponse struct {
	Current            *occurrenceDTO `json:"current"`
	Next               *occurrenceDTO `json:"next"`
	NextOverlapping    *occurrenceDTO `json:"nextOverlapping"`
	NextNonOverlapping *occurrenceDTO `json:"nextNonOverlapping"`
	IsOverlappingNow   bool           `json:"isOverlappingNow"`
	MinutesUntilNext   *int           `json:"minutesUntilNext"`
}

// handleNextEvent computes the timeline for one ICS feed over today's
// window in the requested zone.
//
//	POST /api/next-event  {"icsUrl": "...", "tz": "Europe/Kyiv"}
//	GET  /api/next-event?icsUrl=...&tz=...
func (s *Server) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := decodeNextEventRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TZ == "" {
		req.TZ = s.cfg.Timezone
	}

	now := s.now()

	window, err := schedule.DayWindow(now, req.TZ)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timezone: "+req.TZ)
		return
	}

	cacheKey := req.ICSUrl + "|" + req.TZ
	ttl := time.Duration(s.cfg.CacheTTLSeconds) * time.Second

	s.cacheMu.RLock()
	cached := s.cache[cacheKey]
	s.cacheMu.RUnlock()
	if cached != nil && now.Sub(cached.updatedAt) < ttl {
		writeJSON(w, http.StatusOK, cached.resp)
		return
	}

	resp, err := s.computeTimeline(r.Context(), req, window, now)
	if err != nil {
		appLog.Error("next-event computation failed", err, "tz", req.TZ)
		writeError(w, http.StatusBadGateway, "failed to load calendar")
		return
	}

	s.cacheMu.Lock()
	s.storeCachedLocked(cacheKey, resp, now, ttl)
	s.cacheMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// maxCachedResponses bounds the response cache; keys are caller-supplied, so
// the map cannot be allowed to grow with every distinct URL ever requested.
const maxCachedResponses = 64

// storeCachedLocked inserts one entry, dropping expired entries first and,
// when the cache is still full, the stalest live one. Callers hold cacheMu.
func (s *Server) storeCachedLocked(key string, resp nextEventResponse, now time.Time, ttl time.Duration) {
	for k, v := range s.cache {
		if now.Sub(v.updatedAt) >= ttl {
			delete(s.cache, k)
		}
	}
	if len(s.cache) >= maxCachedResponses {
		var oldestKey string
		var oldestAt time.Time
		for k, v := range s.cache {
			if oldestKey == "" || v.updatedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = v.updatedAt
			}
		}
		delete(s.cache, oldestKey)
	}
	s.cache[key] = &cachedResponse{resp: resp, updatedAt: now}
}

func decodeNextEventRequest(r *http.Request) (nextEventRequest, error) {
	var req nextEventRequest

	switch r.Method {
	case http.MethodPost:
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, errors.New("malformed request body")
		}
	case http.MethodGet:
		q := r.URL.Query()
		req.ICSUrl = q.Get("icsUrl")
		req.TZ = q.Get("tz")
	}

	req.ICSUrl = strings.TrimSpace(req.ICSUrl)
	req.TZ = strings.TrimSpace(req.TZ)
	if req.ICSUrl == "" {
		return req, errors.New("icsUrl is required")
	}
	return req, nil
}

// computeTimeline runs the full pipeline for one request: fetch, normalize
// zone identifiers, parse, resolve overrides, expand, analyze.
func (s *Server) computeTimeline(ctx context.Context, req nextEventRequest, window model.Window, now time.Time) (nextEventResponse, error) {
	fetched, err := s.fetcher.FetchOne(ctx, ics.Source{ID: "request", URL: req.ICSUrl})
	if err != nil {
		return nextEventResponse{}, err
	}

	body := ics.NormalizeTimezones(fetched.Body)

	events, err := ics.ParseICS(req.ICSUrl, body)
	if err != nil {
		return nextEventResponse{}, err
	}

	resolved := schedule.Resolve(events)
	occurrences, skipped := schedule.ExpandAll(resolved, window, schedule.Options{
		DefaultDuration:   time.Duration(s.cfg.DefaultDurationMinutes) * time.Minute,
		CancelledPrefixes: s.cfg.CancelledPrefixes,
	})
	if len(skipped) > 0 {
		appLog.Warn("events excluded for missing fields", "uids", strings.Join(skipped, ","))
	}

	tl := schedule.Analyze(occurrences, now)

	resp := nextEventResponse{
		Current:            toDTO(tl.Current, window.Loc),
		Next:               toDTO(tl.Next, window.Loc),
		NextOverlapping:    toDTO(tl.NextOverlapping, window.Loc),
		NextNonOverlapping: toDTO(tl.NextNonOverlapping, window.Loc),
		IsOverlappingNow:   tl.Current != nil,
	}
	if tl.Next != nil {
		mins := schedule.MinutesUntil(now, tl.Next)
		resp.MinutesUntilNext = &mins
	}

	appLog.Info("timeline computed",
		"tz", req.TZ,
		"occurrence_count", len(occurrences),
		"has_current", tl.Current != nil,
		"has_next", tl.Next != nil,
	)
	return resp, nil
}

// wallClockLayout always renders a numeric offset, so UTC serializes as
// +00:00 rather than the Z suffix.
const wallClockLayout = "2006-01-02T15:04:05-07:00"

func toDTO(o *model.Occurrence, loc *time.Location) *occurrenceDTO {
	if o == nil {
		return nil
	}
	return &occurrenceDTO{
		UID:       o.UID,
		Title:     o.Title,
		Location:  o.Location,
		Organizer: o.Organizer,
		Status:    o.Status,
		Start:     o.Start.In(loc).Format(wallClockLayout),
		End:       o.End.In(loc).Format(wallClockLayout),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
