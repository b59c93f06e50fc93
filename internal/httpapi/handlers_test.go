package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radiod/internal/engine"
	"radiod/internal/schedule"
	"radiod/internal/source"
	"radiod/pkg/logx"
)

// stubSource plays one repeating payload.
type stubSource struct {
	label   string
	payload []byte
}

func (s *stubSource) ID() string                         { return "local" }
func (s *stubSource) DisplayName(context.Context) string { return s.label }
func (s *stubSource) Enabled() bool                      { return true }
func (s *stubSource) Close() error                       { return nil }

func (s *stubSource) NextTrack(context.Context, string, *rand.Rand) (source.Track, error) {
	return source.Track{Title: "loop.mp3", Size: int64(len(s.payload))}, nil
}

func (s *stubSource) Open(context.Context, source.Track) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.payload)), nil
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()

	slot, err := schedule.NewSlot("00:00", "00:00", "local", "")
	require.NoError(t, err)

	src := &stubSource{label: "Test Library", payload: bytes.Repeat([]byte("x"), 4096)}
	eng, err := engine.New(engine.Config{
		Schedule: schedule.New([]schedule.Slot{slot}),
		Factory: func(context.Context, schedule.Slot) (source.Source, error) {
			return src, nil
		},
		AssumedBitrateKbps: 1_000_000,
		InterTrackPause:    time.Millisecond,
		ErrorCooldown:      time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	return NewServer(Config{}, eng, logx.Nop()), eng
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleNowPlayingPlaceholder(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/now-playing", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var np engine.NowPlaying
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &np))
	assert.Equal(t, "(not started yet)", np.Title)
	assert.Equal(t, "unknown", np.Source)
	assert.Nil(t, np.PositionSeconds)
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.Subscribers)
	assert.Zero(t, snap.TracksStarted)
}

func TestHandleSchedule(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schedule", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Timezone string            `json:"timezone"`
		Slots    []engine.SlotView `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UTC", body.Timezone)
	require.Len(t, body.Slots, 1)
	assert.Equal(t, "00:00", body.Slots[0].Start)
	assert.Equal(t, "Test Library", body.Slots[0].Label)
	assert.True(t, body.Slots[0].Active)
	// All-day slot spans exactly one day.
	assert.Equal(t, 24*time.Hour, body.Slots[0].EndAt.Sub(body.Slots[0].StartAt))
}

func TestHandleMaster(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/master?count=2&queue_count=3", nil)
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		NowPlaying engine.NowPlaying    `json:"now_playing"`
		Settings   engine.RuntimeInfo   `json:"settings"`
		Stats      engine.Snapshot      `json:"stats"`
		Preview    []engine.SlotPreview `json:"preview"`
		Queue      []string             `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "audio/mpeg", body.Settings.MimeType)
	require.Len(t, body.Preview, 1)
	assert.Len(t, body.Preview[0].Titles, 2)
	assert.Len(t, body.Queue, 3)
}

func TestQueryIntBounds(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 10},
		{"count=0", 0},
		{"count=7", 7},
		{"count=9999", 200},
		{"count=-1", 10},
		{"count=abc", 10},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/master?"+tc.query, nil)
		assert.Equal(t, tc.want, queryInt(r, "count", 10, 200), "query %q", tc.query)
	}
}

func TestHandleStreamDeliversAudio(t *testing.T) {
	srv, eng := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	buf := make([]byte, 1024)
	n, err := io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	assert.Equal(t, strings.Repeat("x", 1024), string(buf))
}

func TestWebsocketPushesNowPlaying(t *testing.T) {
	srv, eng := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	go srv.hub.run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Wait until the engine has published a track.
	require.Eventually(t, func() bool {
		return eng.NowPlaying() != nil
	}, 5*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/now-playing/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var np engine.NowPlaying
	require.NoError(t, json.Unmarshal(msg, &np))
	assert.Equal(t, "loop.mp3", np.Title)
	assert.Equal(t, "Test Library", np.Source)
}

func TestServerShutdown(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
