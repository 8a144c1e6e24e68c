package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/playback"
)

// PlaybackController is the part of a playback session the API can see and drive.
type PlaybackController interface {
	Status() playback.Status
	Quit(reason string) bool
}

// PlaybackHandler exposes the current playback session.
type PlaybackHandler struct {
	session PlaybackController
	title   string
}

// NewPlaybackHandler creates a handler for session. title is the configured window title.
func NewPlaybackHandler(session PlaybackController, title string) *PlaybackHandler {
	return &PlaybackHandler{session: session, title: title}
}

// PlaybackStatusInput is the input for GET /api/v1/playback.
type PlaybackStatusInput struct{}

// PlaybackStatusOutput is the output for GET /api/v1/playback.
type PlaybackStatusOutput struct {
	Body PlaybackStatusResponse
}

// PlaybackStatusResponse wraps the session status with its window title.
type PlaybackStatusResponse struct {
	Title string `json:"title,omitempty"`
	playback.Status
}

// QuitInput is the input for POST /api/v1/playback/quit. The body is optional.
type QuitInput struct {
	Body *QuitRequest `required:"false"`
}

// QuitRequest optionally names why playback is being stopped.
type QuitRequest struct {
	Reason string `json:"reason,omitempty" doc:"Recorded as the quit reason" maxLength:"200"`
}

// QuitOutput is the output for POST /api/v1/playback/quit.
type QuitOutput struct {
	Body QuitResponse
}

// QuitResponse reports whether the request stopped playback.
type QuitResponse struct {
	Accepted bool   `json:"accepted" doc:"False if playback was already stopping"`
	Reason   string `json:"reason"`
}

// Register registers the playback routes with the API.
func (h *PlaybackHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPlayback",
		Method:      "GET",
		Path:        "/api/v1/playback",
		Summary:     "Playback status",
		Description: "Session id, state, selected streams, queue depths and counters",
		Tags:        []string{"Playback"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "quitPlayback",
		Method:        "POST",
		Path:          "/api/v1/playback/quit",
		Summary:       "Stop playback",
		Tags:          []string{"Playback"},
		DefaultStatus: 202,
	}, h.Quit)
}

// GetStatus returns the session status.
func (h *PlaybackHandler) GetStatus(_ context.Context, _ *PlaybackStatusInput) (*PlaybackStatusOutput, error) {
	return &PlaybackStatusOutput{
		Body: PlaybackStatusResponse{Title: h.title, Status: h.session.Status()},
	}, nil
}

// Quit asks the session to stop.
func (h *PlaybackHandler) Quit(ctx context.Context, input *QuitInput) (*QuitOutput, error) {
	var reason string
	if input.Body != nil {
		reason = input.Body.Reason
	}
	if reason == "" {
		reason = "quit via status API"
	}
	accepted := h.session.Quit(reason)
	observability.LoggerFromContext(ctx).Info("quit requested",
		slog.String("reason", reason),
		slog.Bool("accepted", accepted))

	return &QuitOutput{Body: QuitResponse{Accepted: accepted, Reason: reason}}, nil
}
