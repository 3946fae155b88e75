// Command probe simulates a network presence probe for local development. It
// periodically reports a set of MAC addresses to a session's observations
// endpoint, the same way a router-side agent would.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type observationPayload struct {
	MACAddresses []string `json:"mac_addresses"`
}

func main() {
	var (
		base      string
		token     string
		sessionID string
		macs      string
		interval  time.Duration
		timeout   time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&token, "token", "", "Coordinator bearer token")
	flag.StringVar(&sessionID, "session", "", "Session ID to report observations for")
	flag.StringVar(&macs, "macs", "", "Comma-separated MAC addresses to report")
	flag.DurationVar(&interval, "interval", 30*time.Second, "Delay between reports")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	if token == "" || sessionID == "" || macs == "" {
		flag.Usage()
		os.Exit(2)
	}

	addresses := splitMACs(macs)
	if len(addresses) == 0 {
		log.Fatal("no MAC addresses to report")
	}

	client := &http.Client{Timeout: timeout}
	url := fmt.Sprintf("%s/sessions/%s/observations", strings.TrimRight(base, "/"), sessionID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("reporting %d addresses to %s every %s", len(addresses), url, interval)
	report(client, url, token, addresses)
	for {
		select {
		case <-ticker.C:
			report(client, url, token, addresses)
		case <-stop:
			log.Print("probe stopped")
			return
		}
	}
}

func splitMACs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func report(client *http.Client, url, token string, addresses []string) {
	body, err := json.Marshal(observationPayload{MACAddresses: addresses})
	if err != nil {
		log.Printf("marshal payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("report observations: %v", err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	payload, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		log.Printf("report rejected: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(payload)))
		return
	}
	log.Printf("reported: %s", strings.TrimSpace(string(payload)))
}
