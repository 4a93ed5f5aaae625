package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucasnoah/docfactory/internal/events"
)

const (
	clientBuffer  = 128
	sseKeepAlive  = 15 * time.Second
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingEvery   = (wsPongWait * 9) / 10
	snapshotEvent = "status"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// subscribe attaches a buffered channel to the hub. Events arriving while the
// client's buffer is full are dropped for that client only.
func (s *Server) subscribe() (<-chan events.Event, func()) {
	ch := make(chan events.Event, clientBuffer)
	unsubscribe := s.events.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
			s.log.Debug("stream client lagging, event dropped", "event", string(e.Type))
		}
	})
	return ch, unsubscribe
}

// handleEventStream serves progress events as Server-Sent Events. The first
// message is a status snapshot.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event stream not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := s.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	if err := writeSSE(w, snapshotEvent, s.pipe.Status()); err != nil {
		return
	}
	flusher.Flush()

	tick := time.NewTicker(sseKeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		case e := <-ch:
			if err := writeSSE(w, string(e.Type), e); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

type wsSnapshot struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// handleWebSocket streams the same events as handleEventStream over a
// websocket. Inbound messages are ignored; the read loop only tracks the
// connection's liveness.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event stream not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.subscribe()
	defer unsubscribe()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		s.log.Warn("websocket set read deadline", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}

	if err := write(wsSnapshot{Event: snapshotEvent, Data: s.pipe.Status()}); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-ch:
			if err := write(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
