package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	writeDeadline = 60 * time.Second
	retryMillis   = 3000
)

// Handler serves the event stream at GET /api/v1/events.
//
// The optional "types" query parameter is a comma separated list of event
// types to receive, e.g. ?types=auth.changed,tags.synced.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a Handler streaming from manager.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	types, err := parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	out := &stream{w: w, rc: http.NewResponseController(w), logger: h.logger}
	if err := out.rc.Flush(); err != nil {
		h.logger.Error("response writer cannot stream", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(types...)
	if err != nil {
		h.logger.Error("register stream client", slog.String("error", err.Error()))
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)

	log := h.logger.With(slog.String("client", client.ID))

	if err := out.hello(client.ID); err != nil {
		log.Warn("stream greeting failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range h.manager.Snapshot() {
		if !client.Wants(e.Type) {
			continue
		}
		if err := out.event(e); err != nil {
			log.Debug("snapshot write failed", slog.String("error", err.Error()))
			return
		}
	}

	reason := h.pump(r, client, out)
	log.Info("stream ended", slog.String("reason", reason))
}

// pump copies events to the wire until the client goes away.
func (h *Handler) pump(r *http.Request, client *Client, out *stream) string {
	for {
		select {
		case <-r.Context().Done():
			return "request canceled"
		case <-client.Done:
			return "dropped by manager"
		case e, ok := <-client.EventChan:
			if !ok {
				return "dropped by manager"
			}
			if err := out.event(e); err != nil {
				return "write failed"
			}
		}
	}
}

// parseTypes validates a comma separated type filter. Empty means all.
func parseTypes(raw string) ([]EventType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var types []EventType
	for part := range strings.SplitSeq(raw, ",") {
		t := EventType(strings.TrimSpace(part))
		switch t {
		case "":
			continue
		case EventAuthChanged, EventTagsSynced, EventHeartbeat:
			types = append(types, t)
		default:
			return nil, fmt.Errorf("unknown event type %q", t)
		}
	}
	return types, nil
}

// stream writes SSE frames to one response.
type stream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
}

func (s *stream) hello(clientID string) error {
	if _, err := fmt.Fprintf(s.w, "retry: %d\n", retryMillis); err != nil {
		return err
	}
	return s.frame("", "connected", map[string]string{
		"clientId": clientID,
		"message":  "SSE connection established",
	})
}

func (s *stream) event(e Event) error {
	return s.frame(strconv.FormatUint(e.ID, 10), string(e.Type), e)
}

// frame writes one id/event/data block and flushes it.
func (s *stream) frame(eventID, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}

	var b strings.Builder
	if eventID != "" {
		b.WriteString("id: " + eventID + "\n")
	}
	b.WriteString("event: " + name + "\n")
	b.WriteString("data: ")
	b.Write(body)
	b.WriteString("\n\n")

	if _, err := s.w.Write([]byte(b.String())); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		s.logger.Debug("write deadline unsupported", slog.String("error", err.Error()))
	}
	return nil
}
