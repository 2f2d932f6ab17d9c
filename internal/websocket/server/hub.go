package server

import (
	"context"
	"sync"
	"time"

	"github.com/agentflow-go/internal/domain/progress"
	"github.com/agentflow-go/pkg/events"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/goccy/go-json"
)

const (
	mirrorTimeout = 2 * time.Second
	mirrorBuffer  = 1024
)

// Connection is one subscriber transport.
type Connection interface {
	IsOpen() bool
	Send(message []byte) error
}

type mirrorJob struct {
	ctx     context.Context
	ownerID string
	event   progress.Event
	payload []byte
}

// Hub fans progress events out to every connection of an owner. It is safe
// for concurrent use.
type Hub struct {
	owners map[string]map[Connection]struct{}
	mirror events.Publisher
	queue  chan mirrorJob
	done   chan struct{}
	closed bool
	logger logger.Logger
	mu     sync.RWMutex
}

// NewHub creates a hub. mirror may be nil; when set every notified event is
// also published to it from a background goroutine, so a slow bus never
// delays Notify.
func NewHub(log logger.Logger, mirror events.Publisher) *Hub {
	h := &Hub{
		owners: make(map[string]map[Connection]struct{}),
		mirror: mirror,
		logger: log,
	}
	if mirror != nil {
		h.queue = make(chan mirrorJob, mirrorBuffer)
		h.done = make(chan struct{})
		go h.runMirror()
	}
	return h
}

func (h *Hub) Register(ownerID string, conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.owners[ownerID]
	if !ok {
		conns = make(map[Connection]struct{})
		h.owners[ownerID] = conns
	}
	if _, exists := conns[conn]; !exists {
		conns[conn] = struct{}{}
		metrics.NotifierConnections.Inc()
	}

	h.logger.Info("Client connected", "ownerId", ownerID, "connections", len(conns))
}

// Unregister removes conn and drops the owner once no connection is left.
func (h *Hub) Unregister(ownerID string, conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.owners[ownerID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}

	delete(conns, conn)
	metrics.NotifierConnections.Dec()
	if len(conns) == 0 {
		delete(h.owners, ownerID)
	}

	h.logger.Info("Client disconnected", "ownerId", ownerID)
}

// Notify serializes event once and sends it to each open connection of the
// owner. It returns how many connections accepted the message.
func (h *Hub) Notify(ctx context.Context, ownerID string, event progress.Event) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", "type", event.Type, "error", err)
		metrics.RecordNotifierEvent(string(event.Type), "encode_error")
		return 0
	}

	h.enqueueMirror(ctx, ownerID, event, payload)

	h.mu.RLock()
	targets := make([]Connection, 0, len(h.owners[ownerID]))
	for conn := range h.owners[ownerID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if !conn.IsOpen() {
			continue
		}
		if err := conn.Send(payload); err != nil {
			h.logger.Debug("Dropped event for connection", "ownerId", ownerID, "type", event.Type, "error", err)
			continue
		}
		delivered++
	}

	outcome := "delivered"
	if delivered == 0 {
		outcome = "no_subscribers"
	}
	metrics.RecordNotifierEvent(string(event.Type), outcome)

	return delivered
}

// enqueueMirror never blocks. Events are dropped when the queue is full.
func (h *Hub) enqueueMirror(ctx context.Context, ownerID string, event progress.Event, payload []byte) {
	if h.queue == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	select {
	case h.queue <- mirrorJob{ctx: context.WithoutCancel(ctx), ownerID: ownerID, event: event, payload: payload}:
	default:
		h.logger.Warn("Mirror queue full, dropping event", "type", event.Type, "executionId", event.ExecutionID)
		metrics.RecordNotifierEvent(string(event.Type), "mirror_dropped")
	}
}

func (h *Hub) runMirror() {
	defer close(h.done)
	for job := range h.queue {
		h.publishMirror(job)
	}
}

func (h *Hub) publishMirror(job mirrorJob) {
	key := job.event.ExecutionID
	if key == "" {
		key = job.event.AgentID
	}

	ctx, cancel := context.WithTimeout(job.ctx, mirrorTimeout)
	defer cancel()

	err := h.mirror.Publish(ctx, events.Message{
		Key:     key,
		Type:    string(job.event.Type),
		Value:   job.payload,
		Headers: map[string]string{"owner-id": job.ownerID},
	})
	if err != nil {
		h.logger.Warn("Failed to mirror event", "type", job.event.Type, "error", err)
	}
}

func (h *Hub) HasOwner(ownerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.owners[ownerID]
	return ok
}

func (h *Hub) OwnerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.owners {
		n += len(conns)
	}
	return n
}

// Close closes every registered connection that supports it, then waits for
// queued mirror events to be published.
func (h *Hub) Close() {
	h.mu.Lock()
	for ownerID, conns := range h.owners {
		for conn := range conns {
			if c, ok := conn.(interface{ Close() }); ok {
				c.Close()
			}
			metrics.NotifierConnections.Dec()
		}
		delete(h.owners, ownerID)
	}
	alreadyClosed := h.closed
	h.closed = true
	h.mu.Unlock()

	if h.queue != nil && !alreadyClosed {
		close(h.queue)
		<-h.done
	}
}
