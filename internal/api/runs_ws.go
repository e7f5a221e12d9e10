package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"facloc/internal/model"
)

// Run progress over WebSocket, framed like graphql-transport-ws:
// connection_init/connection_ack, subscribe{runId}, next, complete, ping/pong.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	RunID string `json:"runId"`
}

// RunsWSHandler handles /v1/runs/ws
func (s *Server) RunsWSHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		runID string
		ch    chan model.RunEvent
	}
	subs := map[string]sub{}
	var mu sync.Mutex // guards writes and subs
	write := func(v wsMessage) error {
		mu.Lock()
		defer mu.Unlock()
		return conn.WriteJSON(v)
	}
	fail := func(id, message string) {
		b, _ := json.Marshal(map[string]string{"message": message})
		_ = write(wsMessage{Type: "error", ID: id, Payload: b})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	stop := make(chan struct{})
	defer close(stop)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if pl.RunID == "" {
				fail(msg.ID, "runId required")
				continue
			}
			if _, err := s.Store.GetRun(r.Context(), p.Tenant, pl.RunID); err != nil {
				fail(msg.ID, "run not found")
				continue
			}
			ch := s.Broker.Subscribe(pl.RunID)
			// a run that finished before the subscription gets its final status only
			if run, err := s.Store.GetRun(r.Context(), p.Tenant, pl.RunID); err == nil && run.Done() {
				s.Broker.Unsubscribe(pl.RunID, ch)
				b, _ := json.Marshal(statusEvent(run))
				_ = write(wsMessage{Type: "next", ID: msg.ID, Payload: b})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			mu.Lock()
			subs[msg.ID] = sub{runID: pl.RunID, ch: ch}
			mu.Unlock()
			go func(id, runID string, c chan model.RunEvent) {
				for evt := range c {
					b, _ := json.Marshal(evt)
					if err := write(wsMessage{Type: "next", ID: id, Payload: b}); err != nil {
						break
					}
					if evt.Type == "status" && (evt.Status == model.RunSucceeded || evt.Status == model.RunFailed) {
						break
					}
				}
				mu.Lock()
				cur, ok := subs[id]
				if ok && cur.ch == c {
					delete(subs, id)
				}
				mu.Unlock()
				if ok && cur.ch == c {
					s.Broker.Unsubscribe(runID, c)
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, pl.RunID, ch)
		case "complete":
			mu.Lock()
			cur, ok := subs[msg.ID]
			delete(subs, msg.ID)
			mu.Unlock()
			if ok {
				s.Broker.Unsubscribe(cur.runID, cur.ch)
			}
		default:
			s.Log.Debug("ignoring websocket message", zap.String("type", msg.Type))
		}
	}
	mu.Lock()
	rest := subs
	subs = map[string]sub{}
	mu.Unlock()
	for _, cur := range rest {
		s.Broker.Unsubscribe(cur.runID, cur.ch)
	}
}
