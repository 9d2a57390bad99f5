// Command testserver is a local HTTP/1.1 target for trying pipefire scenarios.
//
//	go run ./scripts/testserver -port 8080
//	pipefire ./scripts/testserver
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func main() {
	port := flag.Int("port", 8080, "Listening port")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("pipefire test server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, newMux()))
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/echo", handleEcho)
	mux.HandleFunc("/stream", handleStream)
	mux.HandleFunc("/delay", handleDelay)
	mux.HandleFunc("/status/", handleStatus)
	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		respondJSON(w, http.StatusOK, map[string]any{"closing": true})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "path": r.URL.Path})
	})
	return mux
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[name] = strings.Join(values, ", ")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"headers": headers,
		"body":    string(body),
	})
}

// handleStream writes ?chunks= chunked entities, ?interval= apart.
func handleStream(w http.ResponseWriter, r *http.Request) {
	chunks := queryInt(r, "chunks", 5)
	interval, err := time.ParseDuration(r.URL.Query().Get("interval"))
	if err != nil {
		interval = 100 * time.Millisecond
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	for i := 0; i < chunks; i++ {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(interval):
		}
		fmt.Fprintf(w, "chunk %d\n", i)
		flusher.Flush()
	}
}

func handleDelay(w http.ResponseWriter, r *http.Request) {
	delay := time.Duration(queryInt(r, "ms", 100)) * time.Millisecond
	select {
	case <-r.Context().Done():
		return
	case <-time.After(delay):
	}
	respondJSON(w, http.StatusOK, map[string]any{"delayed_ms": delay.Milliseconds()})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
	if err != nil || code < 200 || code > 599 {
		http.Error(w, "status must be 200-599", http.StatusBadRequest)
		return
	}
	respondJSON(w, code, map[string]any{"status": code})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
