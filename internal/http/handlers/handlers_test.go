package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/http/handlers"
	"github.com/jmylchreest/tvplay/internal/playback"
)

type fakeSession struct {
	mu      sync.Mutex
	status  playback.Status
	reasons []string
}

func (s *fakeSession) Status() playback.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Quit(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
	return len(s.reasons) == 1
}

func setupRouter(session handlers.PlaybackController) *chi.Mux {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewHealthHandler("1.0.0").Register(api)
	handlers.NewPlaybackHandler(session, "tvplay").Register(api)
	return router
}

func TestHealthHandler_GetHealth(t *testing.T) {
	out, err := handlers.NewHealthHandler("1.2.3").GetHealth(context.Background(), &handlers.HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.NotEmpty(t, out.Body.Uptime)
	assert.Positive(t, out.Body.CPUInfo.Cores)
	assert.Positive(t, out.Body.Process.PID)
	assert.Positive(t, out.Body.Process.Goroutines)
}

func TestHealthRoute(t *testing.T) {
	router := setupRouter(&fakeSession{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body handlers.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestPlaybackHandler_GetStatus(t *testing.T) {
	session := &fakeSession{status: playback.Status{
		SessionID:      "01J0000000000000000000000A",
		Locator:        "https://***@example.com/live.ts",
		State:          playback.StateRunning,
		BufferedFrames: 1,
		BufferCapacity: 2,
		Video:          &playback.StreamStatus{Index: 0, Codec: "h264", Width: 1920, Height: 1080, Worker: "running"},
		Stats:          playback.StatsSnapshot{FramesPresented: 42},
	}}
	router := setupRouter(session)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/playback", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "tvplay", body["title"])
	assert.Equal(t, "01J0000000000000000000000A", body["session_id"])
	assert.Equal(t, "running", body["state"])
	assert.Nil(t, body["audio"])

	video, ok := body["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1920), video["width"])

	stats, ok := body["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), stats["frames_presented"])
}

func TestPlaybackHandler_Quit(t *testing.T) {
	session := &fakeSession{}
	router := setupRouter(session)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/playback/quit", strings.NewReader(`{"reason":"bedtime"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp handlers.QuitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "bedtime", resp.Reason)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/playback/quit", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Accepted, "second quit is a no-op")
	assert.Equal(t, "quit via status API", resp.Reason)
	assert.Equal(t, []string{"bedtime", "quit via status API"}, session.reasons)
}
