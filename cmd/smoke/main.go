// Command smoke seeds identities and a driver, then drives one ride
// end-to-end against a running server to check the whole stack is wired
// correctly.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	api := envOrDefault("API_BASE", "http://localhost:8080")
	wsBase := envOrDefault("WS_BASE", "ws://localhost:8080")

	fmt.Println("Seeding identities...")
	if err := runCmd("go", "run", "./cmd/seed"); err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	riderToken := envOrDefault("RIDER_TOKEN", "")
	driverToken := envOrDefault("DRIVER_TOKEN", "")
	if riderToken == "" || driverToken == "" {
		log.Fatal("set RIDER_TOKEN and DRIVER_TOKEN from the seed output to run non-interactively")
	}

	fmt.Println("Sending driver heartbeat...")
	if err := postJSON(api+"/api/drivers/sim_driver_1/location", driverToken, map[string]any{
		"latitude":  40.758,
		"longitude": -73.9855,
		"accuracy":  5,
	}); err != nil {
		log.Fatalf("heartbeat failed: %v", err)
	}

	fmt.Println("Setting driver availability...")
	if err := postJSON(api+"/api/drivers/sim_driver_1/availability", driverToken, map[string]any{
		"status": "available",
	}); err != nil {
		log.Fatalf("set availability failed: %v", err)
	}

	fmt.Println("Requesting ride...")
	rideID, err := requestRide(api, riderToken, map[string]any{
		"pickup":      map[string]float64{"latitude": 40.758, "longitude": -73.9855},
		"destination": map[string]float64{"latitude": 40.7484, "longitude": -73.9857},
	})
	if err != nil {
		log.Fatalf("request ride failed: %v", err)
	}
	fmt.Printf("Ride ID: %s\n", rideID)

	events := make(chan map[string]any, 5)
	go subscribeWS(wsBase, riderToken, events)

	fmt.Println("Accepting ride over websocket...")
	if err := acceptRide(wsBase, driverToken, rideID); err != nil {
		log.Fatalf("accept failed: %v", err)
	}

	waitForStatus(events, "matched", rideID)

	fmt.Println("Smoke test complete.")
}

func requestRide(api, token string, payload map[string]any) (string, error) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", api+"/api/rides", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	idVal, ok := res["id"]
	if !ok || idVal == nil {
		return "", fmt.Errorf("ride id missing")
	}
	id, _ := idVal.(string)
	if id == "" {
		return "", fmt.Errorf("ride id missing")
	}
	return id, nil
}

func postJSON(url, token string, payload map[string]any) error {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", url, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func acceptRide(wsBase, token, rideID string) error {
	conn, err := dialWS(wsBase, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for ride_offer: %w", err)
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil && msg.Type == "ride_offer" {
			break
		}
	}
	accept, _ := json.Marshal(map[string]any{
		"type": "ride_accept",
		"data": map[string]string{"rideId": rideID},
	})
	return conn.WriteMessage(websocket.TextMessage, accept)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "DATABASE_URL="+envOrDefault("DATABASE_URL", ""))
	return cmd.Run()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func dialWS(base, token string) (*websocket.Conn, error) {
	parsed, err := url.Parse(strings.TrimRight(base, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	q := parsed.Query()
	q.Set("token", token)
	parsed.RawQuery = q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	return conn, err
}

func subscribeWS(base, token string, sink chan<- map[string]any) {
	conn, err := dialWS(base, token)
	if err != nil {
		log.Printf("ws dial failed: %v", err)
		return
	}
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		sink <- payload
	}
}

func waitForStatus(events <-chan map[string]any, expect, rideID string) {
	timeout := time.After(15 * time.Second)
	for {
		select {
		case msg := <-events:
			msgType, _ := msg["type"].(string)
			fmt.Printf("WS update received: %v\n", msg)
			if msgType == "ride_matched" || msgType == "ride_status_changed" {
				data, _ := msg["data"].(map[string]any)
				if status, _ := data["status"].(string); status == expect {
					return
				}
			}
		case <-timeout:
			log.Fatalf("expected ws status %q not received for ride %s", expect, rideID)
		}
	}
}
