// Command simulate drives one ride end to end against a running server: a
// rider requests a ride, then a driver connects over WebSocket and accepts
// the resulting offer.
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
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type rideRequest struct {
	Pickup      coordinate `json:"pickup"`
	Destination coordinate `json:"destination"`
}

func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	wsBase := flag.String("ws", "ws://localhost:8080", "WebSocket base URL")
	riderToken := flag.String("rider-token", "", "rider bearer token")
	driverToken := flag.String("driver-token", "", "driver bearer token")
	pickupLat := flag.Float64("pickup-lat", 40.758, "pickup latitude")
	pickupLon := flag.Float64("pickup-lon", -73.9855, "pickup longitude")
	destLat := flag.Float64("dest-lat", 40.7484, "destination latitude")
	destLon := flag.Float64("dest-lon", -73.9857, "destination longitude")
	flag.Parse()

	if *riderToken == "" || *driverToken == "" {
		log.Fatal("both -rider-token and -driver-token are required")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	rideID, err := requestRide(client, *api, *riderToken, rideRequest{
		Pickup:      coordinate{Latitude: *pickupLat, Longitude: *pickupLon},
		Destination: coordinate{Latitude: *destLat, Longitude: *destLon},
	})
	if err != nil {
		log.Fatalf("ride request failed: %v", err)
	}
	log.Printf("ride requested: %s", rideID)

	if err := acceptOverWebsocket(*wsBase, *driverToken, rideID); err != nil {
		log.Fatalf("accept failed: %v", err)
	}
	log.Printf("ride accept sent for %s", rideID)
}

func requestRide(client *http.Client, api, token string, payload rideRequest) (string, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest("POST", fmt.Sprintf("%s/api/rides", api), bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("request ride status: %s", resp.Status)
	}
	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	if id, ok := res["id"].(string); ok {
		return id, nil
	}
	return "", fmt.Errorf("ride id missing in response")
}

// acceptOverWebsocket connects as the driver and waits for the ride_offer
// push before sending ride_accept. The matcher takes the first claim for
// the ride whether or not the claiming driver was offered it.
func acceptOverWebsocket(wsBase, token, rideID string) error {
	u := strings.TrimRight(wsBase, "/") + "/ws"
	parsed, err := url.Parse(u)
	if err != nil {
		return err
	}
	q := parsed.Query()
	q.Set("token", token)
	parsed.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for ride_offer: %w", err)
		}
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "ride_offer" {
			continue
		}
		var offer struct {
			RideID string `json:"rideId"`
		}
		_ = json.Unmarshal(msg.Data, &offer)
		if offer.RideID != "" && offer.RideID != rideID {
			continue
		}
		break
	}

	accept := map[string]any{
		"type": "ride_accept",
		"data": map[string]string{"rideId": rideID},
	}
	body, _ := json.Marshal(accept)
	return conn.WriteMessage(websocket.TextMessage, body)
}

func init() {
	log.SetOutput(os.Stdout)
}
