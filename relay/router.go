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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Router dispatches inbound envelopes by message type. It holds no state of
// its own across envelopes; everything shared lives in the registry. For
// operations that both acknowledge and forward, the sender's ack is always
// the first outbound frame, before any forwarded frame.
type Router struct {
	reg *Registry
}

// NewRouter creates a router on top of the given registry.
func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

// Registry returns the registry the router mutates.
func (ro *Router) Registry() *Registry {
	return ro.reg
}

// ServeEnvelope handles one inbound envelope from an authenticated sender.
// Validation failures are reported to the originating connection as error
// frames and never mutate state; they are not fatal to the connection.
func (ro *Router) ServeEnvelope(conn Conn, sender common.Address, env *Envelope) {
	inboundMeter.Mark(1)

	switch env.Type {
	case TypePing:
		ro.send(conn, pongEnvelope())
	case TypeChannel:
		ro.handleChannel(conn, sender, env)
	case TypeChannelRequest:
		ro.handleChannelRequest(conn, sender, env)
	case TypeChannelApprove:
		ro.handleChannelApprove(conn, sender, env)
	case TypeChannelReject:
		ro.handleChannelReject(conn, sender, env)
	default:
		ro.sendError(conn, fmt.Sprintf("Invalid message type: %s", env.Type))
	}
}

// handleChannel forwards a payload to every connection of every subscriber of
// the named channel. Authorization is the stored member set, so identities
// subscribed after creation are legitimate senders too.
func (ro *Router) handleChannel(conn Conn, sender common.Address, env *Envelope) {
	if env.Channel == "" || len(env.Data) == 0 {
		ro.sendError(conn, "Invalid channel message format")
		return
	}
	if !ro.reg.IsSubscriber(env.Channel, sender) {
		ro.sendError(conn, "Unauthorized access to channel")
		return
	}
	conns := ro.reg.SubscriberConnections(env.Channel)
	if len(conns) == 0 {
		ro.sendError(conn, "Channel has no connected subscribers")
		return
	}
	ro.send(conn, ackEnvelope())
	ro.fanout(conns, &Envelope{
		Type:    TypeMessage,
		From:    sender.Hex(),
		Channel: env.Channel,
		Data:    env.Data,
	})
}

// handleChannelRequest stores a pending request and notifies the invited
// party. Nothing is stored when the recipient has no live connection, so a
// later request for the same pair starts fresh.
func (ro *Router) handleChannelRequest(conn Conn, sender common.Address, env *Envelope) {
	if env.To == "" {
		ro.sendError(conn, "Invalid channel request format")
		return
	}
	recipient, err := ParseIdentity(env.To)
	if err != nil {
		ro.sendError(conn, "Invalid Ethereum address")
		return
	}
	if recipient == sender {
		ro.sendError(conn, "Cannot create channel with self")
		return
	}
	name := ChannelName(sender, recipient)
	if ro.reg.ChannelExists(name) {
		ro.sendError(conn, "Channel already exists")
		return
	}
	if _, pending := ro.reg.ChannelRequest(name); pending {
		ro.sendError(conn, "Channel request already pending")
		return
	}
	conns := ro.reg.ConnectionsOf(recipient)
	if len(conns) == 0 {
		ro.sendError(conn, "user is unavailable")
		return
	}
	ro.reg.AddChannelRequest(name, sender)
	ro.send(conn, ackEnvelope())
	ro.fanout(conns, &Envelope{
		Type:    TypeChannelRequest,
		From:    sender.Hex(),
		Channel: name,
	})
}

// handleChannelApprove turns a pending request into an established channel
// with both participants subscribed. Only the invited participant may
// approve; the requester cannot approve their own request.
func (ro *Router) handleChannelApprove(conn Conn, sender common.Address, env *Envelope) {
	requester, ok := ro.reg.ChannelRequest(env.Channel)
	if !ok {
		ro.sendError(conn, "Unknown channel request")
		return
	}
	a, b, err := ChannelParticipants(env.Channel)
	if err != nil || (sender != a && sender != b) {
		ro.sendError(conn, "Unauthorized channel approval")
		return
	}
	if sender == requester {
		ro.sendError(conn, "Requester cannot approve own channel request")
		return
	}
	ro.reg.DeleteChannelRequest(env.Channel)
	ro.reg.Subscribe(env.Channel, requester, sender)
	log.Info("Channel established", "channel", env.Channel, "requester", requester, "approver", sender)

	ro.send(conn, ackEnvelope())
	ro.fanout(ro.reg.SubscriberConnections(env.Channel), infoEnvelope("Channel created", env.Channel))
}

// handleChannelReject drops a pending request and tells the requester, if
// they still have a live connection.
func (ro *Router) handleChannelReject(conn Conn, sender common.Address, env *Envelope) {
	requester, ok := ro.reg.ChannelRequest(env.Channel)
	if !ok {
		ro.sendError(conn, "Unknown channel request")
		return
	}
	ro.reg.DeleteChannelRequest(env.Channel)
	log.Info("Channel request rejected", "channel", env.Channel, "rejector", sender)

	ro.send(conn, ackEnvelope())
	if conns := ro.reg.ConnectionsOf(requester); len(conns) > 0 {
		ro.fanout(conns, infoEnvelope(fmt.Sprintf("Channel request rejected by %s", sender.Hex()), ""))
	}
}

// send writes one frame to the originating connection. A failure here means
// the sender itself is gone; it is logged and otherwise ignored.
func (ro *Router) send(conn Conn, env *Envelope) {
	if err := conn.SendJSON(env); err != nil {
		log.Debug("Reply send failed", "conn", conn.ID(), "type", env.Type, "err", err)
	}
}

func (ro *Router) sendError(conn Conn, message string) {
	protocolErrMeter.Mark(1)
	log.Debug("Protocol error", "conn", conn.ID(), "message", message)
	ro.send(conn, errorEnvelope(message))
}

// fanout delivers one envelope to each connection, skipping the ones that
// fail. One broken subscriber must not abort delivery to the rest.
func (ro *Router) fanout(conns []Conn, env *Envelope) {
	for _, c := range conns {
		if err := c.SendJSON(env); err != nil {
			fanoutFailedMeter.Mark(1)
			log.Debug("Fan-out send failed", "conn", c.ID(), "type", env.Type, "err", err)
			continue
		}
		fanoutSentMeter.Mark(1)
	}
}
