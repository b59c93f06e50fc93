package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"radiod/internal/engine"
	"radiod/pkg/logx"
)

const (
	defaultPreviewCount = 10
	maxPreviewCount     = 200
	defaultQueueCount   = 5
	maxQueueCount       = 50
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// nowPlayingOrPlaceholder never returns nil: before the first track the
// clients get a predictable default rather than a null body.
func (s *Server) nowPlayingOrPlaceholder() engine.NowPlaying {
	if np := s.eng.NowPlaying(); np != nil {
		return *np
	}
	return engine.NowPlaying{
		Title:    "(not started yet)",
		Source:   "unknown",
		MimeType: s.eng.Describe().MimeType,
	}
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.nowPlayingOrPlaceholder())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Diagnostics())
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timezone": s.eng.Describe().Timezone,
		"slots":    s.eng.ScheduleView(r.Context()),
	})
}

// handleMaster is the operator's debug view: everything about the loop in
// one response.
func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", defaultPreviewCount, maxPreviewCount)
	queueCount := queryInt(r, "queue_count", defaultQueueCount, maxQueueCount)

	var queue []string
	if q, err := s.eng.QueuePreview(r.Context(), queueCount); err == nil {
		queue = q
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"now_playing": s.nowPlayingOrPlaceholder(),
		"settings":    s.eng.Describe(),
		"stats":       s.eng.Diagnostics(),
		"preview":     s.eng.PreviewTracks(r.Context(), count),
		"queue":       queue,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", s.eng.Describe().MimeType)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.eng.Subscribe()
	defer s.eng.Unsubscribe(sub)

	s.log.Debug("stream client connected",
		logx.Uint64("subscriber", sub.ID()),
		logx.String("remote", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				// Evicted or engine shutdown: end the response cleanly.
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// queryInt reads a bounded non-negative integer query parameter.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
