// mock-provider emulates an Ollama-compatible /api/generate endpoint with
// configurable latency, for local end-to-end runs of the drift engine.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func main() {
	var (
		addr    string
		latency time.Duration
	)
	flag.StringVar(&addr, "addr", ":11434", "listen address")
	flag.DurationVar(&latency, "latency", 150*time.Millisecond, "simulated generation latency")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		// Honour client cancellation during the simulated generation delay.
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}

		writeJSON(w, generateResponse{
			Model: req.Model,
			Response: fmt.Sprintf(
				"Mock diagnosis: the deviation pattern in the prompt (%d chars) suggests checking the top-ranked variable's sensor and its control loop.",
				len(req.Prompt)),
			Done: true,
		})
	})

	log.Printf("mock-provider listening on %s (latency %s)", addr, latency)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}
