package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"ragshield/internal/events"
)

// Stream tuning. Replay depth matches the dashboard's initial page.
const (
	streamReplayCount  = 20
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// handleEventStream handles GET /api/events/stream: a websocket that
// replays recent events and then tails the live feed, one JSON event
// per text message.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Dashboard may be served from any origin
	})
	if err != nil {
		slog.Error("failed to accept websocket connection", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Subscribe before replaying so events logged during the replay
	// are not lost; a rare duplicate is harmless for a tail.
	ch, cancel := h.broadcaster.Subscribe()
	defer cancel()

	if err := h.events.Flush(); err != nil {
		slog.Error("failed to flush event log for replay", "error", err)
		conn.Close(websocket.StatusInternalError, "event log unavailable")
		return
	}
	recent, err := h.events.ReadEvents(streamReplayCount, "")
	if err != nil {
		slog.Error("failed to read event log for replay", "error", err)
		conn.Close(websocket.StatusInternalError, "event log unavailable")
		return
	}
	for _, ev := range recent {
		if err := writeStreamEvent(ctx, conn, ev); err != nil {
			return
		}
	}

	slog.Debug("event stream subscriber connected", "remote", r.RemoteAddr, "replayed", len(recent))

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "broadcaster closed")
				return
			}
			if err := writeStreamEvent(ctx, conn, ev); err != nil {
				slog.Debug("event stream write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				slog.Debug("event stream ping failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
