// Copyright 2025 The w3chat Authors
// This file is part of the w3chat library.
//
// The w3chat library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The w3chat library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the w3chat library. If not, see <http://www.gnu.org/licenses/>.

package relay

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Conn is the transport handle tracked by the registry. Implementations must
// serialize concurrent SendJSON calls internally. The registry never closes a
// connection; it only forgets it.
type Conn interface {
	// ID returns a token unique among all live connections. Registration and
	// removal are keyed by it.
	ID() uuid.UUID

	// SendJSON writes one envelope to the peer. It may fail if the peer is
	// gone; callers are expected to skip the connection, not abort.
	SendJSON(v interface{}) error
}

// Registry is the sole owner of connection, channel and request state. All
// operations are serialized by a single mutex, so no caller can observe a
// partially updated map. Membership is stored as identities, not connections:
// they are resolved to connections at send time, so every device of a
// subscribed identity receives channel traffic.
type Registry struct {
	mu          sync.Mutex
	connections map[common.Address]map[uuid.UUID]Conn
	channels    map[string]mapset.Set[common.Address]
	requests    map[string]common.Address
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[common.Address]map[uuid.UUID]Conn),
		channels:    make(map[string]mapset.Set[common.Address]),
		requests:    make(map[string]common.Address),
	}
}

// AddConnection registers a live connection for the given identity, creating
// the identity's connection set if absent. Registering the same connection
// twice is a no-op.
func (r *Registry) AddConnection(identity common.Address, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[identity]
	if !ok {
		set = make(map[uuid.UUID]Conn)
		r.connections[identity] = set
	}
	set[conn.ID()] = conn
	connectionsGauge.Inc(1)
	log.Debug("Connection registered", "identity", identity, "conn", conn.ID(), "devices", len(set))
}

// RemoveConnection forgets a connection. Removing a connection that was never
// registered is a no-op. The identity's entry is dropped as soon as its last
// connection goes away, so an identity present as a key always has a
// non-empty set.
func (r *Registry) RemoveConnection(identity common.Address, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[identity]
	if !ok {
		return
	}
	if _, ok := set[conn.ID()]; !ok {
		return
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.connections, identity)
	}
	connectionsGauge.Dec(1)
	log.Debug("Connection removed", "identity", identity, "conn", conn.ID(), "devices", len(set))
}

// ConnectionsOf returns a snapshot of the identity's live connections. The
// result is empty if the identity has none.
func (r *Registry) ConnectionsOf(identity common.Address) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectionsOfLocked(identity)
}

func (r *Registry) connectionsOfLocked(identity common.Address) []Conn {
	set := r.connections[identity]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// EnsureChannel creates the named channel if it does not exist and subscribes
// each given identity after checking it against the format predicate. On an
// invalid identity the channel itself and any subscriptions made before the
// failing entry are kept; only the invalid identity is guaranteed absent.
func (r *Registry) EnsureChannel(name string, identities []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[name]
	if !ok {
		members = mapset.NewThreadUnsafeSet[common.Address]()
		r.channels[name] = members
		channelsGauge.Inc(1)
		log.Debug("Channel created", "channel", name)
	}
	for _, s := range identities {
		id, err := ParseIdentity(s)
		if err != nil {
			log.Warn("Rejected channel subscription", "channel", name, "identity", s)
			return fmt.Errorf("invalid address: %w", err)
		}
		members.Add(id)
	}
	return nil
}

// Subscribe adds the given identities to a channel's member set, creating the
// channel if it does not yet exist. Already subscribed identities are left
// alone.
func (r *Registry) Subscribe(name string, identities ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[name]
	if !ok {
		members = mapset.NewThreadUnsafeSet[common.Address]()
		r.channels[name] = members
		channelsGauge.Inc(1)
		log.Debug("Channel created", "channel", name)
	}
	for _, id := range identities {
		members.Add(id)
	}
}

// ChannelExists reports whether the named channel has been created.
func (r *Registry) ChannelExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[name]
	return ok
}

// IsSubscriber reports whether the identity is a member of the named channel.
// Membership is the authoritative authorization check for channel sends.
func (r *Registry) IsSubscriber(name string, identity common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[name]
	return ok && members.Contains(identity)
}

// Subscribers returns a snapshot of the channel's member set.
func (r *Registry) Subscribers(name string) []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[name]
	if !ok {
		return nil
	}
	return members.ToSlice()
}

// SubscriberConnections resolves the channel's members to their live
// connections in one atomic snapshot. Sends against the snapshot happen
// outside the registry lock, so delivery is not atomic with respect to
// concurrent membership changes.
func (r *Registry) SubscriberConnections(name string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[name]
	if !ok {
		return nil
	}
	var conns []Conn
	members.Each(func(id common.Address) bool {
		conns = append(conns, r.connectionsOfLocked(id)...)
		return false
	})
	return conns
}

// DeleteChannel removes the named channel and its member set. Deleting an
// absent channel is also success.
func (r *Registry) DeleteChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[name]; ok {
		delete(r.channels, name)
		channelsGauge.Dec(1)
		log.Debug("Channel deleted", "channel", name)
	}
}

// AddChannelRequest stores a pending channel request, overwriting any
// previous request for the same name. Callers are responsible for existence
// checks beforehand.
func (r *Registry) AddChannelRequest(name string, requester common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[name]; !ok {
		requestsGauge.Inc(1)
	}
	r.requests[name] = requester
	log.Debug("Channel request stored", "channel", name, "requester", requester)
}

// ChannelRequest returns the requester of the pending request for the named
// channel, if one exists.
func (r *Registry) ChannelRequest(name string) (common.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	requester, ok := r.requests[name]
	return requester, ok
}

// DeleteChannelRequest removes a pending request. Deleting an absent request
// is also success.
func (r *Registry) DeleteChannelRequest(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[name]; ok {
		delete(r.requests, name)
		requestsGauge.Dec(1)
		log.Debug("Channel request deleted", "channel", name)
	}
}
