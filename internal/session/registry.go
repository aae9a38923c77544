package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ticketbridge.local/projects/bridge/internal/ids"
)

var ErrNotFound = errors.New("session not found")

const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 5 * time.Minute

	watchBuffer = 8
)

// Registry holds short-lived recording sessions in memory. Status updates
// are last-write-wins; the submit path never trusts Status for correctness,
// only the presence of VideoURL, so a completion racing a cancel cannot
// corrupt a ticket. A periodic sweep evicts every session older than the
// TTL regardless of status.
type Registry struct {
	logger        *log.Logger
	now           func() time.Time
	ttl           time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	sessions map[string]Record
	watchers map[string][]chan Record
	closed   bool

	done chan struct{}
}

func NewRegistry(logger *log.Logger, ttl, sweepInterval time.Duration, now func() time.Time) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		logger:        logger,
		now:           now,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]Record),
		watchers:      make(map[string][]chan Record),
		done:          make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.sessions {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.sessions, id)
			r.dropWatchersLocked(id)
			r.logger.Printf("evicted stale session id=%s status=%s", id, rec.Status)
		}
	}
}

// Create allocates a new pending session holding the given ticket context
// and returns it.
func (r *Registry) Create(description string, metadata json.RawMessage, linkCode string) (Record, error) {
	rec := Record{
		SessionID:   ids.New(),
		Status:      StatusPending,
		CreatedAt:   r.now(),
		Description: description,
		Metadata:    metadata,
		LinkCode:    linkCode,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Record{}, fmt.Errorf("registry is closed")
	}
	r.sessions[rec.SessionID] = rec
	return rec, nil
}

func (r *Registry) Get(sessionID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// SetStatus overwrites the session status and, when given, the video
// reference. The transition into completed stamps CompletedAt. Updates are
// last-write-wins; no transition ordering is enforced.
func (r *Registry) SetStatus(sessionID string, status Status, videoURL string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}

	rec.Status = status
	if videoURL != "" {
		rec.VideoURL = videoURL
	}
	if status == StatusCompleted {
		rec.CompletedAt = r.now()
	}
	r.sessions[sessionID] = rec
	r.notifyLocked(rec)
	return rec, nil
}

// RequestStop flags the session so the agent popup, which polls the flag,
// finishes the capture early. Idempotent.
func (r *Registry) RequestStop(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.StopRequested = true
	r.sessions[sessionID] = rec
	r.notifyLocked(rec)
	return nil
}

// Watch returns a channel that receives a snapshot after every mutation of
// the session, plus a release function. The channel is closed when the
// session is evicted or the registry shuts down. Slow consumers miss
// intermediate snapshots rather than blocking mutators.
func (r *Registry) Watch(sessionID string) (<-chan Record, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan Record, watchBuffer)
	r.watchers[sessionID] = append(r.watchers[sessionID], ch)

	release := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chans := r.watchers[sessionID]
		for i, c := range chans {
			if c == ch {
				r.watchers[sessionID] = append(chans[:i], chans[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, release, nil
}

func (r *Registry) notifyLocked(rec Record) {
	for _, ch := range r.watchers[rec.SessionID] {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (r *Registry) dropWatchersLocked(sessionID string) {
	for _, ch := range r.watchers[sessionID] {
		close(ch)
	}
	delete(r.watchers, sessionID)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)
	for id := range r.watchers {
		r.dropWatchersLocked(id)
	}
	return nil
}
