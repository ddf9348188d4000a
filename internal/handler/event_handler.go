package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/events"
	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/pkg/response"
	"github.com/pubwiki/provisioner/internal/repository"
)

const keepAliveInterval = 15 * time.Second

// EventHandler streams task events over SSE.
type EventHandler struct {
	tasks  repository.TaskRepository
	bus    *bus.Bus
	logger *slog.Logger
}

// NewEventHandler creates an event handler.
func NewEventHandler(tasks repository.TaskRepository, b *bus.Bus, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{tasks: tasks, bus: b, logger: logger}
}

// Stream handles GET /provisioner/v1/tasks/{task_id}/events.
//
// A task may reach a terminal state between any check and any subscribe, and
// pub/sub does not replay. The order here closes that window: subscribe
// first, then snapshot the task row. A terminal row yields one synthesized
// Status event, possibly duplicating the real message; clients treat
// terminal status idempotently.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	ctx := r.Context()
	log := h.logger.With(slog.String("task_id", taskID))

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, apierrors.ErrInternal.WithMessage("streaming unsupported"))
		return
	}

	sub := h.bus.Subscribe(ctx, taskID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		log.Error("redis subscribe failed", slog.String("error", err.Error()))
		response.Error(w, apierrors.NewRedisError(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Terminal snapshot, now race-free: anything published from here on is
	// covered by the live subscription.
	task, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		log.Error("task snapshot read failed", slog.String("error", err.Error()))
	}
	if task != nil && task.Status.Terminal() {
		ev := events.Status{Status: task.Status, WikiID: task.WikiID}
		if task.Message != nil {
			ev.Message = *task.Message
		}
		payload, err := events.Marshal(ev)
		if err == nil {
			log.Info("terminal snapshot emitted", slog.String("status", string(task.Status)))
			writeSSE(w, ev.SSEName(), string(payload))
			flusher.Flush()
		}
		return
	}

	// Hand the late subscriber the current phase right away.
	if raw, ev, ok := h.bus.LastEvent(ctx, taskID); ok {
		if p, isProgress := ev.(events.Progress); isProgress && !p.Status.Terminal() {
			writeSSE(w, p.SSEName(), raw)
			flusher.Flush()
		}
	}

	ch := sub.Channel()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := events.Parse([]byte(msg.Payload))
			if err != nil {
				log.Warn("unparseable event payload", slog.String("payload", msg.Payload))
				writeSSE(w, "", msg.Payload)
				flusher.Flush()
				continue
			}
			writeSSE(w, ev.SSEName(), msg.Payload)
			flusher.Flush()
			if st, isStatus := ev.(events.Status); isStatus && st.Status.Terminal() {
				log.Info("terminal status observed, closing stream", slog.String("status", string(st.Status)))
				return
			}
		}
	}
}

// writeSSE frames one event. Multi-line payloads become multiple data lines
// per the SSE spec.
func writeSSE(w io.Writer, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
