// Package main starts a run for an instance file and prints its progress
// events received over the run WebSocket.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8080", "API host:port")
	tenant := flag.String("tenant", "t_demo", "tenant id")
	instance := flag.String("instance", "", "instance JSON file")
	seconds := flag.Float64("timeout", 5, "search budget in seconds")
	flag.Parse()
	if *instance == "" {
		log.Fatal("-instance is required")
	}
	raw, err := os.ReadFile(*instance)
	if err != nil {
		log.Fatal(err)
	}
	body, _ := json.Marshal(map[string]any{"instance": json.RawMessage(raw), "timeoutSec": *seconds})

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/v1/solve", *host), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", *tenant)
	req.Header.Set("X-Role", "solver")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("solve: %s", resp.Status)
	}
	var run struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s", run.ID)

	u := url.URL{Scheme: "ws", Host: *host, Path: "/v1/runs/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", *tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]string{"runId": run.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}
	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			log.Printf("read: %v", err)
			return
		}
		log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		if m.Type == "complete" || m.Type == "error" {
			return
		}
	}
}
