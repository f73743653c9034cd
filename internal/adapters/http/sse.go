package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/logging"
)

// sseWriter defers the event-stream headers until the first event, so
// failures before retrieval completes still get a plain JSON error status.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	onEvent func(string)
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.Header().Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) write(event string, payload any) error {
	s.start()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	if s.onEvent != nil {
		s.onEvent(event)
	}
	return nil
}

func (s *sseWriter) emit(ev domain.StreamEvent) error {
	switch ev.Type {
	case domain.StreamEventSources:
		citations := ev.Citations
		if citations == nil {
			citations = []domain.Citation{}
		}
		return s.write(string(ev.Type), map[string]any{"citations": citations})
	case domain.StreamEventToken:
		return s.write(string(ev.Type), map[string]string{"token": ev.Token})
	case domain.StreamEventDone:
		return s.write(string(ev.Type), map[string]any{})
	case domain.StreamEventError:
		err := ev.Err
		if err == nil {
			err = errors.New("stream failed")
		}
		return s.write(string(ev.Type), newErrorResponse(err))
	default:
		return fmt.Errorf("unknown stream event %q", ev.Type)
	}
}

func (rt *Router) chatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming is not supported by response writer"))
		return
	}
	query, ok := rt.decodeChat(w, r)
	if !ok {
		return
	}

	stream := &sseWriter{w: w, flusher: flusher}
	if rt.deps.Metrics != nil {
		stream.onEvent = func(event string) {
			rt.deps.Metrics.RecordStreamEvent(serviceName, event)
		}
	}

	err := rt.deps.Chat.Stream(r.Context(), query, stream.emit)
	if err == nil {
		return
	}
	if !stream.started {
		writeError(w, r, err)
		return
	}
	// The error event, if any, is already on the wire.
	logging.FromContext(r.Context()).Warn("chat_stream_ended", "error", err)
}
