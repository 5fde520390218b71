package server

import (
	"sync"

	"github.com/samber/lo"
)

// Registry is the authoritative list of joined participants, in join order.
// It holds at most one entry per connection id and is safe for concurrent use.
// Every read hands out a copy.
type Registry struct {
	mu           sync.RWMutex
	participants []Participant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{participants: make([]Participant, 0)}
}

// Join inserts the participant and returns the resulting roster. A second
// join with the same id only overwrites the name, keeping its position.
func (r *Registry) Join(id, name string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.indexOf(id); idx >= 0 {
		r.participants[idx].Name = name
	} else {
		r.participants = append(r.participants, Participant{ID: id, Name: name})
	}
	return r.snapshotLocked()
}

// Rename updates the display name of id in place.
func (r *Registry) Rename(id, name string) (NameChanged, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return NameChanged{}, ErrNotFound
	}
	r.participants[idx].Name = name
	return NameChanged{ID: id, Name: name}, nil
}

// Remove deletes id. Removing an absent id returns ErrNotFound and leaves the
// registry untouched, so a double disconnect is harmless.
func (r *Registry) Remove(id string) (ParticipantDisconnected, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return ParticipantDisconnected{}, ErrNotFound
	}
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	return ParticipantDisconnected{ID: id, Sender: systemSender}, nil
}

// Snapshot returns the current roster in join order.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of joined participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Registry) indexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(r.participants, func(p Participant) bool {
		return p.ID == id
	})
	if !ok {
		return -1
	}
	return idx
}

func (r *Registry) snapshotLocked() []Participant {
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}
