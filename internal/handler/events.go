package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/canvastodo/card-server-go/internal/errors"
	"github.com/canvastodo/card-server-go/internal/httputil"
)

const HeartbeatInterval = 25 * time.Second

// GET /v1/profiles/{profileID}/events
//
// Streams the card snapshot as "snapshot" events whenever it changes.
func (h *CardHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	c, err := h.mounted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates, cancel := c.Watch()
	defer cancel()

	pid := profileID(r)
	log.Info().Str("profileId", pid).Msg("sse connection established")

	ctx := r.Context()
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("profileId", pid).Msg("sse connection closed by client")
			return

		case snap, open := <-updates:
			if !open {
				log.Info().Str("profileId", pid).Msg("sse connection closed by card")
				return
			}
			if err := sendEvent(w, flusher, "snapshot", snap); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("profileId", pid).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return sendRawEvent(w, flusher, eventType, jsonData)
}

func sendRawEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
