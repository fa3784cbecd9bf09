// Package voice keeps the voice channel state reported by overlay broadcasts.
package voice

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/saker-ai/voice-overlay/pkg/overlay"
)

// User is a channel member as shown on the overlay.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
	Talking  bool   `json:"talking"`
}

// Snapshot is the payload pushed to overlay viewers.
type Snapshot struct {
	CurrentUsers []User   `json:"current_users"`
	TalkingUsers []string `json:"talking_users"`
}

// Tracker holds the latest member list and talking set. Version increases on
// every change so viewers can skip redundant pushes.
type Tracker struct {
	mu      sync.RWMutex
	users   []User
	talking []string
	version uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{users: []User{}, talking: []string{}}
}

// Apply routes a broadcast to the matching update. Other kinds are ignored.
func (t *Tracker) Apply(env overlay.Envelope) error {
	event, ok := env.Event()
	if !ok {
		return nil
	}
	switch event {
	case overlay.EventAudioChannelUserChange:
		return t.ApplyUserChange(env.Data)
	case overlay.EventAudioChannelUserTalk:
		return t.ApplyUserTalk(env.Data)
	}
	return nil
}

// ApplyUserChange replaces the member list. Talking flags carry over from the
// current talking set.
func (t *Tracker) ApplyUserChange(data json.RawMessage) error {
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("decode audio_channel_user_change: %w", err)
	}
	if users == nil {
		users = []User{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range users {
		users[i].Talking = slices.Contains(t.talking, users[i].ID)
	}
	t.users = users
	t.version++
	return nil
}

// ApplyUserTalk replaces the talking set and updates each member's flag.
func (t *Tracker) ApplyUserTalk(data json.RawMessage) error {
	var talking []string
	if err := json.Unmarshal(data, &talking); err != nil {
		return fmt.Errorf("decode audio_channel_user_talk: %w", err)
	}
	if talking == nil {
		talking = []string{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Equal(t.talking, talking) {
		return nil
	}
	t.talking = talking
	for i := range t.users {
		t.users[i].Talking = slices.Contains(talking, t.users[i].ID)
	}
	t.version++
	return nil
}

// Snapshot returns a copy of the current state and its version.
func (t *Tracker) Snapshot() (Snapshot, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		CurrentUsers: slices.Clone(t.users),
		TalkingUsers: slices.Clone(t.talking),
	}, t.version
}

// Version returns the change counter.
func (t *Tracker) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}
