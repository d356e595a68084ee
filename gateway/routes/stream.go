package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"fixedterm/core/events"
	"fixedterm/native/fixedterm"
)

const streamWriteTimeout = 10 * time.Second

type streamView struct {
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// streamMarket upgrades to a websocket and pushes the engine events of one
// market. A cursor query parameter resumes after an earlier update.
func (h *handlers) streamMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketParam(w, r)
	if !ok {
		return
	}
	if _, err := h.cfg.Engine.Market(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid cursor")
			return
		}
		since = parsed
	}

	// Server read and write timeouts would cut long lived streams.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.cfg.Logger.Debug("stream upgrade failed", "market", id.String(), "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	err = h.streamUpdates(ctx, conn, id, since)
	if err != nil && !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (h *handlers) streamUpdates(ctx context.Context, conn *websocket.Conn, id fixedterm.MarketID, since uint64) error {
	updates, cancel, backlog := h.cfg.Stream.Subscribe(ctx, since)
	defer cancel()

	market := id.String()
	for _, update := range backlog {
		if err := writeStreamUpdate(ctx, conn, market, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamUpdate(ctx, conn, market, update); err != nil {
				return err
			}
		}
	}
}

func writeStreamUpdate(ctx context.Context, conn *websocket.Conn, market string, update events.StreamUpdate) error {
	if update.Event.Attr("market") != market {
		return nil
	}
	data, err := json.Marshal(streamView{
		Cursor:     strconv.FormatUint(update.Sequence, 10),
		Type:       update.Event.Type,
		Attributes: update.Event.Attributes,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
