// Command webhook-receiver is a standalone debugging target for webhook
// deliveries. It records every request, verifies the HMAC signature when
// SECRET is set, and exposes the captured traffic on /stats.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type request struct {
	Timestamp     string            `json:"timestamp"`
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	SignatureOK   *bool             `json:"signature_ok,omitempty"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
}

type stats struct {
	Count        int64     `json:"count"`
	BadSignature int64     `json:"bad_signature"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	badSignature int64
	lastRequests []request
	since        time.Time
	maxStored    = 50

	secret = os.Getenv("SECRET")
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignature = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	if secret == "" {
		log.Println("webhook-receiver: SECRET not set; signature verification disabled")
	}
	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Method:        r.Method,
		Path:          r.URL.Path,
		CorrelationID: r.Header.Get("X-Notify-Correlation-ID"),
		Headers:       headers,
		Body:          string(body),
	}

	if secret != "" {
		ok := verifySignature(secret, body, r.Header.Get("X-Notify-Signature"))
		req.SignatureOK = &ok
		if !ok {
			mu.Lock()
			badSignature++
			mu.Unlock()
			log.Printf("hook signature mismatch (correlation_id=%s)", req.CorrelationID)
		}
	}

	mu.Lock()
	count++
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("hook received #%d (correlation_id=%s): %s", current, req.CorrelationID, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		BadSignature: badSignature,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// verifySignature mirrors the sender: hex HMAC-SHA256 over the raw body.
func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
