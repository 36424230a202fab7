// Package diagnostics exposes the tiered controller's aggregate-only
// statistics over a websocket endpoint, for external tooling that
// wants to watch tier residency and promotion activity live instead
// of polling the in-process Stats/ProfileSnapshot accessors.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"jitcore/internal/escape"
	"jitcore/internal/tiered"
)

// Frame is one broadcast snapshot: the controller's tier/queue
// statistics plus a human-readable rendering of the raw counters,
// grounded on the same aggregate-only shape as tiered.Stats and
// profile.Snapshot — no per-call timelines ever cross this boundary.
type Frame struct {
	Tiers               map[string]int `json:"tiers"`
	QueueLength         int            `json:"queue_length"`
	InFlight            int            `json:"in_flight"`
	Promotions          uint64         `json:"promotions"`
	PromotionsHuman     string         `json:"promotions_human"`
	FailedOptimizations uint64         `json:"failed_optimizations"`
	FunctionCalls       map[string]uint64 `json:"function_calls"`
	TopFunctionHuman    string         `json:"top_function_human,omitempty"`
}

// ReclaimSummary renders an escape analysis report's reclaimable-byte
// total in both raw and human form, for a one-off diagnostics query
// rather than the periodic Stats broadcast.
type ReclaimSummary struct {
	FunctionName     string `json:"function_name"`
	ReclaimableBytes int    `json:"reclaimable_bytes"`
	ReclaimableHuman string `json:"reclaimable_human"`
	Inlinable        bool   `json:"inlinable"`
}

// SummarizeReclaim formats an escape.Report for the name field of a
// diagnostics payload.
func SummarizeReclaim(functionName string, report *escape.Report) ReclaimSummary {
	return ReclaimSummary{
		FunctionName:     functionName,
		ReclaimableBytes: report.ReclaimableBytes,
		ReclaimableHuman: humanize.Bytes(uint64(report.ReclaimableBytes)),
		Inlinable:        report.Inlinable,
	}
}

func buildFrame(controller *tiered.Controller, names map[uint32]string) Frame {
	stats := controller.Stats()
	snapshot := controller.ProfileSnapshot()

	frame := Frame{
		Tiers: map[string]int{
			tiered.TierInterpreter.String(): stats.TierCounts[tiered.TierInterpreter],
			tiered.TierQuickJIT.String():    stats.TierCounts[tiered.TierQuickJIT],
			tiered.TierOptimizing.String():  stats.TierCounts[tiered.TierOptimizing],
			tiered.TierMax.String():         stats.TierCounts[tiered.TierMax],
		},
		QueueLength:         stats.QueueLength,
		InFlight:            stats.InFlight,
		Promotions:          stats.Promotions,
		PromotionsHuman:     humanize.Comma(int64(stats.Promotions)),
		FailedOptimizations: stats.FailedOptimizations,
		FunctionCalls:       make(map[string]uint64, len(snapshot.Counts)),
	}

	var topCount uint64
	var topName string
	for id, count := range snapshot.Counts {
		name := fmt.Sprintf("fn#%d", uint32(id))
		if names != nil {
			if n, ok := names[uint32(id)]; ok {
				name = n
			}
		}
		frame.FunctionCalls[name] = count
		if count > topCount {
			topCount = count
			topName = name
		}
	}
	if topName != "" {
		frame.TopFunctionHuman = fmt.Sprintf("%s: %s calls", topName, humanize.Comma(int64(topCount)))
	}
	return frame
}

// client is one accepted websocket connection, tracked so Shutdown can
// close every socket instead of leaking goroutines, mirroring the
// accept/broadcast/disconnect split a websocket-backed server module
// needs regardless of what it's streaming.
type client struct {
	conn   *websocket.Conn
	closed bool
	mu     sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("diagnostics: client connection is closed")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.closed = true
		return err
	}
	return nil
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// Server streams periodic Frame snapshots of a tiered.Controller to
// every connected websocket client.
type Server struct {
	controller *tiered.Controller
	interval   time.Duration
	names      map[uint32]string

	upgrader websocket.Upgrader
	http     *http.Server

	mu      sync.RWMutex
	clients map[string]*client
	nextID  uint64

	done chan struct{}
}

// NewServer constructs a diagnostics server bound to addr, broadcasting
// controller's Stats/ProfileSnapshot every interval. names optionally
// maps function IDs to source names for readable frames; nil falls
// back to the fn#<id> rendering.
func NewServer(addr string, controller *tiered.Controller, interval time.Duration, names map[uint32]string) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Server{
		controller: controller,
		interval:   interval,
		names:      names,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:    make(map[string]*client),
		done:       make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving and broadcasting in background goroutines.
// ListenAndServe errors other than http.ErrServerClosed are logged,
// not returned, since this server's failure should never take down
// the compiler process it's reporting on.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("diagnostics: server exited: %v", err)
		}
	}()
	go s.broadcastLoop()
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) broadcast() {
	frame := buildFrame(s.controller, s.names)
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("diagnostics: marshal frame: %v", err)
		return
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(payload); err != nil {
			s.removeClient(c)
		}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("diagnostics: upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("client-%d", s.nextID)
	s.clients[id] = c
	s.mu.Unlock()

	// Drain and discard inbound frames so gorilla's control-frame
	// (ping/pong/close) handling keeps running; this endpoint is
	// publish-only and ignores whatever a client sends.
	go func() {
		defer s.removeClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(target *client) {
	s.mu.Lock()
	for id, c := range s.clients {
		if c == target {
			delete(s.clients, id)
			break
		}
	}
	s.mu.Unlock()
	target.close()
}

// Shutdown stops broadcasting, closes every connected client, and
// shuts down the HTTP listener, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)

	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	return s.http.Shutdown(ctx)
}
