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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *Router {
	return NewRouter(NewRegistry())
}

func TestPingPong(t *testing.T) {
	ro := newTestRouter()
	c := newTestConn()

	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypePing})
	assert.Equal(t, Envelope{Type: TypePong}, c.next(t))
	assert.Zero(t, c.pending())
}

func TestInvalidMessageType(t *testing.T) {
	ro := newTestRouter()
	c := newTestConn()

	ro.ServeEnvelope(c, addr1, &Envelope{Type: "teleport"})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Invalid message type: teleport"}, c.next(t))

	ro.ServeEnvelope(c, addr1, &Envelope{})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Invalid message type: "}, c.next(t))
}

func TestChannelHandshake(t *testing.T) {
	ro := newTestRouter()
	a, b := newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b)
	name := ChannelName(addr1, addr2)

	// Request: A is acked first, then B is notified.
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	assert.Equal(t, Envelope{Type: TypeAck}, a.next(t))
	assert.Equal(t, Envelope{Type: TypeChannelRequest, From: addr1.Hex(), Channel: name}, b.next(t))

	// Approve: B is acked, both participants get the creation notice.
	ro.ServeEnvelope(b, addr2, &Envelope{Type: TypeChannelApprove, Channel: name})
	assert.Equal(t, Envelope{Type: TypeAck}, b.next(t))
	assert.Equal(t, Envelope{Type: TypeInfo, Message: "Channel created", Channel: name}, a.next(t))
	assert.Equal(t, Envelope{Type: TypeInfo, Message: "Channel created", Channel: name}, b.next(t))

	// The pending request is consumed and the channel established.
	_, pending := ro.reg.ChannelRequest(name)
	assert.False(t, pending)
	require.True(t, ro.reg.ChannelExists(name))
	assert.True(t, ro.reg.IsSubscriber(name, addr1))
	assert.True(t, ro.reg.IsSubscriber(name, addr2))

	// Message: the sender sees ack strictly before the forwarded frame.
	data := json.RawMessage(`"hi"`)
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannel, Channel: name, Data: data})
	assert.Equal(t, Envelope{Type: TypeAck}, a.next(t))
	expected := Envelope{Type: TypeMessage, From: addr1.Hex(), Channel: name, Data: data}
	assert.Equal(t, expected, a.next(t))
	assert.Equal(t, expected, b.next(t))
}

func TestChannelMessageValidation(t *testing.T) {
	ro := newTestRouter()
	c := newTestConn()
	name := ChannelName(addr1, addr2)
	ro.reg.Subscribe(name, addr1, addr2)

	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypeChannel, Data: json.RawMessage(`"hi"`)})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Invalid channel message format"}, c.next(t))

	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypeChannel, Channel: name})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Invalid channel message format"}, c.next(t))
}

func TestChannelUnauthorized(t *testing.T) {
	ro := newTestRouter()
	a, b, x := newTestConn(), newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b)
	ro.reg.AddConnection(addr3, x)
	name := ChannelName(addr1, addr2)
	ro.reg.Subscribe(name, addr1, addr2)

	ro.ServeEnvelope(x, addr3, &Envelope{Type: TypeChannel, Channel: name, Data: json.RawMessage(`"intruder"`)})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Unauthorized access to channel"}, x.next(t))

	// No forwarding happened.
	assert.Zero(t, a.pending())
	assert.Zero(t, b.pending())
}

func TestChannelThirdSubscriberCanSend(t *testing.T) {
	ro := newTestRouter()
	a, x := newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr3, x)
	name := ChannelName(addr1, addr2)
	ro.reg.Subscribe(name, addr1, addr2)

	// Membership is the authoritative check: an identity subscribed after
	// creation may send even though it is not part of the channel name.
	ro.reg.Subscribe(name, addr3)

	data := json.RawMessage(`"late joiner"`)
	ro.ServeEnvelope(x, addr3, &Envelope{Type: TypeChannel, Channel: name, Data: data})
	assert.Equal(t, Envelope{Type: TypeAck}, x.next(t))
	expected := Envelope{Type: TypeMessage, From: addr3.Hex(), Channel: name, Data: data}
	assert.Equal(t, expected, x.next(t))
	assert.Equal(t, expected, a.next(t))
}

func TestChannelRequestValidation(t *testing.T) {
	ro := newTestRouter()
	c := newTestConn()
	ro.reg.AddConnection(addr1, c)

	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypeChannelRequest})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Invalid channel request format"}, c.next(t))

	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypeChannelRequest, To: "0xInvalidAddress"})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Invalid Ethereum address"}, c.next(t))

	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypeChannelRequest, To: addr1.Hex()})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Cannot create channel with self"}, c.next(t))

	// Identity comparison is case-insensitive: a lower-cased own address is
	// still a self channel.
	ro.ServeEnvelope(c, addr1, &Envelope{Type: TypeChannelRequest, To: "0x1234567890ABCDEF1234567890abcdef12345678"})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Cannot create channel with self"}, c.next(t))
}

func TestChannelRequestUnavailable(t *testing.T) {
	ro := newTestRouter()
	a := newTestConn()
	ro.reg.AddConnection(addr1, a)
	name := ChannelName(addr1, addr2)

	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	assert.Equal(t, Envelope{Type: TypeError, Message: "user is unavailable"}, a.next(t))

	// Nothing was stored, so a later request succeeds once the invited party
	// comes online.
	_, pending := ro.reg.ChannelRequest(name)
	require.False(t, pending)

	b := newTestConn()
	ro.reg.AddConnection(addr2, b)
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	assert.Equal(t, Envelope{Type: TypeAck}, a.next(t))
	assert.Equal(t, Envelope{Type: TypeChannelRequest, From: addr1.Hex(), Channel: name}, b.next(t))
}

func TestChannelRequestConflicts(t *testing.T) {
	ro := newTestRouter()
	a, b := newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b)
	name := ChannelName(addr1, addr2)

	// A request while one is already pending is rejected.
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	a.next(t) // ack
	b.next(t) // notification
	ro.ServeEnvelope(b, addr2, &Envelope{Type: TypeChannelRequest, To: addr1.Hex()})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Channel request already pending"}, b.next(t))

	// A request for an already established channel is rejected.
	ro.reg.DeleteChannelRequest(name)
	ro.reg.Subscribe(name, addr1, addr2)
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Channel already exists"}, a.next(t))
}

func TestChannelApproveValidation(t *testing.T) {
	ro := newTestRouter()
	a, b, x := newTestConn(), newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b)
	ro.reg.AddConnection(addr3, x)
	name := ChannelName(addr1, addr2)

	ro.ServeEnvelope(x, addr3, &Envelope{Type: TypeChannelApprove, Channel: name})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Unknown channel request"}, x.next(t))

	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	a.next(t) // ack
	b.next(t) // notification

	// The requester cannot approve their own request.
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelApprove, Channel: name})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Requester cannot approve own channel request"}, a.next(t))

	// A non-participant cannot approve either.
	ro.ServeEnvelope(x, addr3, &Envelope{Type: TypeChannelApprove, Channel: name})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Unauthorized channel approval"}, x.next(t))

	// The request survives failed approvals and the channel does not exist.
	_, pending := ro.reg.ChannelRequest(name)
	assert.True(t, pending)
	assert.False(t, ro.reg.ChannelExists(name))
}

func TestChannelReject(t *testing.T) {
	ro := newTestRouter()
	a, b := newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b)
	name := ChannelName(addr1, addr2)

	ro.ServeEnvelope(b, addr2, &Envelope{Type: TypeChannelReject, Channel: name})
	assert.Equal(t, Envelope{Type: TypeError, Message: "Unknown channel request"}, b.next(t))

	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	a.next(t) // ack
	b.next(t) // notification

	ro.ServeEnvelope(b, addr2, &Envelope{Type: TypeChannelReject, Channel: name})
	assert.Equal(t, Envelope{Type: TypeAck}, b.next(t))
	assert.Equal(t, Envelope{Type: TypeInfo, Message: "Channel request rejected by " + addr2.Hex()}, a.next(t))

	// The request is gone and no channel was created.
	_, pending := ro.reg.ChannelRequest(name)
	assert.False(t, pending)
	assert.False(t, ro.reg.ChannelExists(name))
}

func TestChannelRejectOfflineRequester(t *testing.T) {
	ro := newTestRouter()
	a, b := newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b)
	name := ChannelName(addr1, addr2)

	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannelRequest, To: addr2.Hex()})
	a.next(t)
	b.next(t)

	// The requester disconnects before the rejection comes in. The rejector
	// is still acked; nobody else is notified.
	ro.reg.RemoveConnection(addr1, a)
	ro.ServeEnvelope(b, addr2, &Envelope{Type: TypeChannelReject, Channel: name})
	assert.Equal(t, Envelope{Type: TypeAck}, b.next(t))
	assert.Zero(t, a.pending())
}

func TestMultiDeviceFanout(t *testing.T) {
	ro := newTestRouter()
	a1, a2, b1, b2 := newTestConn(), newTestConn(), newTestConn(), newTestConn()
	ro.reg.AddConnection(addr1, a1)
	ro.reg.AddConnection(addr1, a2)
	ro.reg.AddConnection(addr2, b1)
	ro.reg.AddConnection(addr2, b2)
	name := ChannelName(addr1, addr2)
	ro.reg.Subscribe(name, addr1, addr2)

	data := json.RawMessage(`"all devices"`)
	ro.ServeEnvelope(a1, addr1, &Envelope{Type: TypeChannel, Channel: name, Data: data})

	assert.Equal(t, Envelope{Type: TypeAck}, a1.next(t))
	expected := Envelope{Type: TypeMessage, From: addr1.Hex(), Channel: name, Data: data}
	for _, c := range []*testConn{a1, a2, b1, b2} {
		assert.Equal(t, expected, c.next(t))
		assert.Zero(t, c.pending())
	}
}

func TestFanoutSkipsBrokenConnections(t *testing.T) {
	ro := newTestRouter()
	a, b1, b2 := newTestConn(), newTestConn(), newTestConn()
	b1.broken = true
	ro.reg.AddConnection(addr1, a)
	ro.reg.AddConnection(addr2, b1)
	ro.reg.AddConnection(addr2, b2)
	name := ChannelName(addr1, addr2)
	ro.reg.Subscribe(name, addr1, addr2)

	data := json.RawMessage(`"still delivered"`)
	ro.ServeEnvelope(a, addr1, &Envelope{Type: TypeChannel, Channel: name, Data: data})

	// One broken subscriber connection does not abort delivery to the rest.
	assert.Equal(t, Envelope{Type: TypeAck}, a.next(t))
	expected := Envelope{Type: TypeMessage, From: addr1.Hex(), Channel: name, Data: data}
	assert.Equal(t, expected, a.next(t))
	assert.Equal(t, expected, b2.next(t))
	assert.Zero(t, b1.pending())
}
