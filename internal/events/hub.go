// Package events fans job lifecycle events out to SSE subscribers. Rooms
// are keyed by job id; subscribers in other rooms never see the event.
// Delivery is best effort: a subscriber that cannot keep up loses events
// rather than blocking the publisher.
package events

import (
	"sync"
	"time"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// Event kinds emitted over the job's room.
const (
	KindProgress = "translation_progress"
	KindComplete = "translation_complete"
	KindError    = "translation_error"
)

// Event is one job lifecycle notification.
type Event struct {
	Kind      string    `json:"-"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`

	// Progress fields.
	Progress          int    `json:"progress,omitempty"`
	CurrentFile       string `json:"current_file,omitempty"`
	FilesDone         int    `json:"files_done,omitempty"`
	TotalFiles        int    `json:"total_files,omitempty"`
	TranslatedStrings int    `json:"translated_strings,omitempty"`
	TotalStrings      int    `json:"total_strings,omitempty"`

	// Terminal fields.
	Status  string                   `json:"status,omitempty"`
	Message string                   `json:"message,omitempty"`
	Report  *domain.ValidationReport `json:"validation,omitempty"`
}

const subscriberBuffer = 32

type subscriber struct {
	jobID string
	ch    chan Event
}

// Hub routes events to per-job subscriber sets. Safe for concurrent use.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

// Subscribe joins the job's room. The returned cancel function leaves the
// room and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	room := h.rooms[jobID]
	if room == nil {
		room = make(map[*subscriber]struct{})
		h.rooms[jobID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if room, ok := h.rooms[jobID]; ok {
				delete(room, sub)
				if len(room) == 0 {
					delete(h.rooms, jobID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber in the job's room,
// dropping it for subscribers with a full buffer.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[ev.JobID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current subscriber count for a job (tests, stats).
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[jobID])
}
