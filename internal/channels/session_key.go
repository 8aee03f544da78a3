package channels

import (
	"context"
	"strconv"
	"sync"

	"github.com/David2024patton/itak/pkg/models"
)

// BuildSessionKey builds a session key in the "itak:<channel>:<room_type>:
// <room_id>" form, per spec §4.12's session-keying rule: the same
// external room always maps to the same session key, independent of
// which principal or agent is currently handling it. roomType is a
// channel-defined room classifier (e.g. "dm", "group", "channel");
// it defaults to "dm" when empty.
func BuildSessionKey(channel models.ChannelType, roomType, roomID string) string {
	if roomType == "" {
		roomType = "dm"
	}
	return "itak:" + string(channel) + ":" + roomType + ":" + roomID
}

// PrincipalRegistry resolves an external channel identity (a platform's own
// user id) to iTaK's internal Principal id, so the same human is
// recognized across every channel they use. The fabric consults this on
// every inbound message before constructing a Session, guaranteeing a
// shared memory scope across channels per spec §4.12.
type PrincipalRegistry interface {
	// Resolve returns the Principal id for an external identity on a given
	// channel, creating a new principal on first contact.
	Resolve(ctx context.Context, channel models.ChannelType, externalID string) (principalID string, err error)
	// Link associates an additional external identity with an existing
	// principal (e.g. the user verifies they also own a Discord handle).
	Link(ctx context.Context, principalID string, channel models.ChannelType, externalID string) error
}

// InMemoryPrincipalRegistry is a process-local PrincipalRegistry, suitable
// for a single-node deployment or tests; a durable deployment backs this
// with the C3 relational store instead.
type InMemoryPrincipalRegistry struct {
	mu       sync.Mutex
	byExternal map[string]string // "<channel>:<external_id>" -> principal id
	nextID   int
}

// NewInMemoryPrincipalRegistry builds an empty registry.
func NewInMemoryPrincipalRegistry() *InMemoryPrincipalRegistry {
	return &InMemoryPrincipalRegistry{byExternal: map[string]string{}}
}

func externalKey(channel models.ChannelType, externalID string) string {
	return string(channel) + ":" + externalID
}

// Resolve returns the existing principal for (channel, externalID),
// minting a new one on first contact.
func (r *InMemoryPrincipalRegistry) Resolve(ctx context.Context, channel models.ChannelType, externalID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := externalKey(channel, externalID)
	if id, ok := r.byExternal[key]; ok {
		return id, nil
	}
	r.nextID++
	id := "principal-" + strconv.Itoa(r.nextID)
	r.byExternal[key] = id
	return id, nil
}

// Link associates an additional external identity with principalID.
func (r *InMemoryPrincipalRegistry) Link(ctx context.Context, principalID string, channel models.ChannelType, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExternal[externalKey(channel, externalID)] = principalID
	return nil
}
