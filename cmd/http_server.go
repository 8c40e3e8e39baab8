package cmd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vfaronov/httpheader"

	"github.com/surge-downloader/kadtable/internal/config"
	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/krpc"
	"github.com/surge-downloader/kadtable/internal/state"
	"github.com/surge-downloader/kadtable/internal/target"
	"github.com/surge-downloader/kadtable/internal/utils"
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	node         *krpc.Node
	port         int
	closestCount int
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(node *krpc.Node, port int, closestCount int) *APIHandler {
	if closestCount <= 0 {
		closestCount = kad.DefaultK
	}
	return &APIHandler{
		node:         node,
		port:         port,
		closestCount: closestCount,
	}
}

// EntryView is an entry as served by the API, optionally with its distance
// to a lookup target.
type EntryView struct {
	kad.Entry
	Bucket   int    `json:"bucket"`
	Distance string `json:"distance,omitempty"`
}

// ClosestResponse answers /closest
type ClosestResponse struct {
	Target  string      `json:"target"`
	Kind    target.Kind `json:"kind"`
	Name    string      `json:"name,omitempty"`
	Entries []EntryView `json:"entries"`
}

// CensusResponse answers /census
type CensusResponse struct {
	NodeID  string      `json:"node_id"`
	K       int         `json:"k"`
	Size    int         `json:"size"`
	Buckets map[int]int `json:"buckets"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("Failed to encode response: %v", err)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// Health check endpoint (Public)
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"port":   h.port,
		"id":     h.node.ID().Hex(),
	})
}

// Closest endpoint (Protected)
func (h *APIHandler) Closest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	raw := r.URL.Query().Get("target")
	if raw == "" {
		http.Error(w, "Missing target parameter", http.StatusBadRequest)
		return
	}
	t, err := target.Parse(raw)
	if err != nil || t.Kind == target.KindTorrent {
		// torrent files are resolved client side
		http.Error(w, "Invalid target", http.StatusBadRequest)
		return
	}

	k := h.closestCount
	if ks := r.URL.Query().Get("k"); ks != "" {
		k, err = strconv.Atoi(ks)
		if err != nil || k < 0 {
			http.Error(w, "Invalid k parameter", http.StatusBadRequest)
			return
		}
	}

	table := h.node.Table()
	closest := table.Closest(t.ID, k)
	views := make([]EntryView, 0, len(closest))
	for _, e := range closest {
		views = append(views, EntryView{
			Entry:    e,
			Bucket:   table.BucketIndex(e.ID),
			Distance: e.ID.Distance(t.ID).Hex(),
		})
	}
	writeJSON(w, ClosestResponse{Target: t.ID.Hex(), Kind: t.Kind, Name: t.Name, Entries: views})
}

// Census endpoint (Protected). Serves text/plain when the client prefers it.
func (h *APIHandler) Census(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	table := h.node.Table()
	resp := CensusResponse{
		NodeID:  h.node.ID().Hex(),
		K:       table.K(),
		Buckets: table.Census(),
	}
	for _, c := range resp.Buckets {
		resp.Size += c
	}

	if prefersText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte(formatCensus(resp))); err != nil {
			utils.Debug("Failed to write census: %v", err)
		}
		return
	}
	writeJSON(w, resp)
}

// prefersText reports whether the Accept header ranks text/plain above JSON.
func prefersText(r *http.Request) bool {
	accept := httpheader.Accept(r.Header)
	if len(accept) == 0 {
		return false
	}
	text := httpheader.MatchAccept(accept, "text/plain")
	js := httpheader.MatchAccept(accept, "application/json")
	return text.Q > js.Q
}

// formatCensus renders one "bucket count/k" line per non-empty bucket,
// farthest bucket first.
func formatCensus(c CensusResponse) string {
	idx := make([]int, 0, len(c.Buckets))
	for i := range c.Buckets {
		idx = append(idx, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))

	var b strings.Builder
	fmt.Fprintf(&b, "node %s  k=%d  entries=%d  buckets=%d\n", c.NodeID, c.K, c.Size, len(idx))
	for _, i := range idx {
		fmt.Fprintf(&b, "%4d  %d/%d\n", i, c.Buckets[i], c.K)
	}
	return b.String()
}

// Entries endpoint (Protected)
func (h *APIHandler) Entries(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	table := h.node.Table()
	entries := table.Entries()
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{Entry: e, Bucket: table.BucketIndex(e.ID)})
	}
	writeJSON(w, views)
}

// Ping endpoint (Protected). The reply populates the table as any contact does.
func (h *APIHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	addrParam := r.URL.Query().Get("addr")
	if addrParam == "" {
		http.Error(w, "Missing addr parameter", http.StatusBadRequest)
		return
	}
	addr, err := net.ResolveUDPAddr("udp", addrParam)
	if err != nil {
		http.Error(w, "Invalid addr: "+err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	id, err := h.node.Ping(r.Context(), addr)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, krpc.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]any{
		"id":     id.Hex(),
		"addr":   addr.String(),
		"rtt_ms": time.Since(start).Milliseconds(),
		"added":  h.node.Table().Contains(id),
	})
}

// Remove endpoint (Protected)
func (h *APIHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("id")
	if raw == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}
	t, err := target.Parse(raw)
	if err != nil || (t.Kind != target.KindHex && t.Kind != target.KindBase58) {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return
	}
	if !h.node.Table().Remove(t.ID) {
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "removed", "id": t.ID.Hex()})
}

// History endpoint (Protected)
func (h *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 20
	if ls := r.URL.Query().Get("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}
	samples, err := state.ListCensus(limit)
	if err != nil {
		http.Error(w, "Failed to retrieve history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []state.Sample{}
	}
	writeJSON(w, samples)
}

func (h *APIHandler) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/closest", h.Closest)
	mux.HandleFunc("/census", h.Census)
	mux.HandleFunc("/entries", h.Entries)
	mux.HandleFunc("/ping", h.Ping)
	mux.HandleFunc("/remove", h.Remove)
	mux.HandleFunc("/history", h.History)
	return authMiddleware(token, mux)
}

// startHTTPServer serves the API on ln until ctx is cancelled.
func startHTTPServer(ctx context.Context, ln net.Listener, handler *APIHandler) error {
	server := &http.Server{
		Handler:           handler.routes(ensureAuthToken()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Debug("HTTP server error: %v", err)
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			utils.Debug("HTTP server shutdown: %v", err)
		}
		return nil
	}
}

func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Allow health check without auth
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			providedToken := strings.TrimPrefix(authHeader, "Bearer ")
			if len(providedToken) == len(token) && subtle.ConstantTimeCompare([]byte(providedToken), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func tokenPath() string {
	return filepath.Join(config.GetKadtableDir(), "token")
}

func ensureAuthToken() string {
	if token := readAuthToken(); token != "" {
		return token
	}

	token := uuid.New().String()
	if err := os.WriteFile(tokenPath(), []byte(token), 0o600); err != nil {
		utils.Debug("Failed to write token file: %v", err)
	}
	return token
}

func readAuthToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
