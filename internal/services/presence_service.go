// Package services – PresenceService
//
// PresenceService drives the connect/disconnect side of the push protocol.
// It binds identified connections in the presence registry and announces
// every change to all live connections as a presence_changed event carrying
// the full, sorted online list.
package services

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/event"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// PresenceService announces presence changes.
type PresenceService struct {
	Registry *presence.Registry

	// mu orders announcements so every client sees presence lists in the
	// order the registry changed.
	mu sync.Mutex
}

// NewPresenceService constructs a PresenceService over reg.
func NewPresenceService(reg *presence.Registry) *PresenceService {
	return &PresenceService{Registry: reg}
}

// Connect registers c as username's live connection and announces it. A
// previous connection for the same user is replaced, not closed, and is
// returned to the caller.
func (s *PresenceService) Connect(username string, c presence.Conn) presence.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.Registry.Register(username, c)
	if prev != nil {
		log.Debug().Str("user", username).Str("conn_id", prev.ID()).Msg("presence superseded")
	}
	s.broadcast(event.Joined(s.Registry.ListUsernames(), username))
	return prev
}

// Disconnect removes c if it is still username's live connection and, if so,
// announces the departure. A superseded connection leaves silently.
func (s *PresenceService) Disconnect(username string, c presence.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Registry.UnregisterConn(username, c) {
		return false
	}
	s.broadcast(event.Left(s.Registry.ListUsernames(), username))
	return true
}

// Online returns the sorted list of connected usernames.
func (s *PresenceService) Online() []string {
	return s.Registry.ListUsernames()
}

func (s *PresenceService) broadcast(ev event.Event) {
	for _, u := range s.Registry.ListUsernames() {
		c, ok := s.Registry.Lookup(u)
		if !ok {
			continue
		}
		if err := c.Send(ev); err != nil {
			log.Debug().Err(err).Str("user", u).Str("type", ev.Type).Msg("presence push skipped")
		}
	}
}
