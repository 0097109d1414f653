package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// Smoke client: exercises a running rosterd-api end to end. Registers a
// fresh user, logs in, and checks that the token gate holds.
func main() {
	base := os.Getenv("ROSTERD_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/healthz")
	if err != nil {
		log.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}

	email := fmt.Sprintf("smoke-%d@example.com", rand.Int())
	token := postForToken(client, base+"/register", map[string]any{
		"email":      email,
		"password":   "smoke-password",
		"first_name": "Smoke",
		"last_name":  "Test",
	}, http.StatusCreated)

	login := postForToken(client, base+"/login", map[string]any{
		"email":    email,
		"password": "smoke-password",
	}, http.StatusOK)
	if login == "" || token == "" {
		log.Fatal("expected tokens from register and login")
	}

	// The gate must reject an unauthenticated organization read.
	resp, err = client.Get(base + "/organizations/00000000-0000-0000-0000-000000000001")
	if err != nil {
		log.Fatalf("gate check: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatalf("gate check: expected 401 without token, got %d", resp.StatusCode)
	}

	// And a valid token without membership must get 403, not data.
	req, _ := http.NewRequest(http.MethodGet, base+"/organizations/00000000-0000-0000-0000-000000000001", nil)
	req.Header.Set("Authorization", login)
	resp, err = client.Do(req)
	if err != nil {
		log.Fatalf("membership check: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		log.Fatalf("membership check: expected 403 for non-member, got %d", resp.StatusCode)
	}

	fmt.Printf("rosterd-api smoke test passed: user=%s\n", email)
}

func postForToken(client *http.Client, url string, body map[string]any, wantStatus int) string {
	data, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("POST %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	var decoded struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Fatalf("decode %s response: %v", url, err)
	}
	return decoded.Token
}
