// ABOUTME: Plain HTTP surface sharing the WebSocket listener
// ABOUTME: Serves the embedded UI, health checks, skills listing and a 404 fallback

package web

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
)

//go:embed static/index.html
var indexHTML []byte

// Handler returns the HTTP handler for the channel. Any path starting with
// /ws is a WebSocket endpoint.
func (c *Channel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", c.handleIndex)
	mux.HandleFunc("GET /index.html", c.handleIndex)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/skills", c.handleSkills)
	mux.HandleFunc("GET /favicon.ico", handleFavicon)
	mux.HandleFunc("/", handleNotFound)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws") {
			c.ServeWS(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func writeResponse(w http.ResponseWriter, status int, contentType string, body []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func (c *Channel) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, "text/plain; charset=utf-8", []byte("ok"))
}

func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusNoContent, "image/x-icon", nil)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusNotFound, "text/plain; charset=utf-8", []byte("not found"))
}

func (c *Channel) handleSkills(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(map[string][]string{"skills": c.listSkills()})
	if err != nil {
		writeResponse(w, http.StatusInternalServerError, "text/plain; charset=utf-8", []byte("internal error"))
		return
	}
	writeResponse(w, http.StatusOK, "application/json; charset=utf-8", body)
}

// listSkills returns the sorted names of the skill directories, skipping
// hidden and "__" entries. Unreadable or unset directories yield an empty list.
func (c *Channel) listSkills() []string {
	names := []string{}
	if c.opts.SkillsDir == "" {
		return names
	}
	entries, err := os.ReadDir(c.opts.SkillsDir)
	if err != nil {
		c.logger.Debug("listing skills failed", "dir", c.opts.SkillsDir, "error", err)
		return names
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") || !e.IsDir() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
