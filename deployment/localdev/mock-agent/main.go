package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"
)

type healthRequest struct {
	Service string `json:"service"`
}

type healthResponse struct {
	Service       string  `json:"service"`
	Status        string  `json:"status"`
	Healthy       bool    `json:"healthy"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	RestartCount  int     `json:"restart_count"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

type logsRequest struct {
	Service string `json:"service"`
	Lines   int    `json:"lines"`
}

// Scripted telemetry: "db" misbehaves so a local remedyd has something to fix.
var services = map[string]healthResponse{
	"db": {
		Service:       "db",
		Status:        "running",
		Healthy:       false,
		CPUPercent:    95.0,
		MemoryPercent: 61.0,
		RestartCount:  1,
		UptimeSeconds: 5400,
	},
	"web": {
		Service:       "web",
		Status:        "running",
		Healthy:       true,
		CPUPercent:    22.5,
		MemoryPercent: 48.0,
		RestartCount:  0,
		UptimeSeconds: 86400,
	},
	"cache": {
		Service:       "cache",
		Status:        "running",
		Healthy:       true,
		CPUPercent:    8.0,
		MemoryPercent: 30.0,
		RestartCount:  0,
		UptimeSeconds: 172800,
	},
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8090", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/agent/health", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req healthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp, ok := services[req.Service]
		if !ok {
			resp = healthResponse{Service: req.Service, Status: "unknown"}
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/api/v1/agent/logs", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req logsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		lines := []string{
			"2026-08-29T10:01:02Z WARN connection pool saturated",
			"2026-08-29T10:01:05Z ERROR query timeout after 30s",
			"2026-08-29T10:01:09Z ERROR too many clients already",
		}
		if req.Service != "db" {
			lines = []string{"2026-08-29T10:01:02Z INFO request served in 12ms"}
		}
		writeJSON(w, map[string]any{"logs": strings.Join(lines, "\n")})
	})

	logger := log.New(log.Writer(), "agent-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
