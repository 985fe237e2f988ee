// Package main runs a demo WebSocket client for solve events: it
// subscribes first, then starts a solve under a client-chosen id so the
// phase and progress stream is visible live.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	solveID := fmt.Sprintf("slv_demo_%d", time.Now().UnixNano())

	// Connect WS and subscribe before the solve starts.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/solve/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		log.Fatalf("expected connection_ack, got %+v (%v)", ack, err)
	}
	payload, _ := json.Marshal(map[string]any{
		"query":     "subscription($solveId: ID!) { solveEvents(solveId: $solveId) }",
		"variables": map[string]any{"solveId": solveID},
	})
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: payload}); err != nil {
		log.Fatal(err)
	}
	log.Printf("subscribed to %s", solveID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", msg.Type, string(msg.Payload))
		}
	}()

	// Fetch the sample payload and run it under our id.
	resp, err := http.Get(base + "/v1/demo/sample-solve-request")
	if err != nil {
		log.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Solve-Id", solveID)
	sres, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var out struct {
		SolveID   string  `json:"solveId"`
		Status    string  `json:"status"`
		Objective float64 `json:"objective"`
	}
	if err := json.NewDecoder(sres.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	_ = sres.Body.Close()
	log.Printf("solve %s finished: status=%s objective=%.0f", out.SolveID, out.Status, out.Objective)

	// Wait briefly for the trailing events, then close out.
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
	_ = conn.WriteJSON(wsMessage{Type: "complete", ID: "1"})
}
