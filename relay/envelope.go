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

import "encoding/json"

// Message types understood by the router. Anything else is rejected with an
// explicit error frame.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeAck            = "ack"
	TypeError          = "error"
	TypeInfo           = "info"
	TypeMessage        = "message"
	TypeChannel        = "channel"
	TypeChannelRequest = "channel_request"
	TypeChannelApprove = "channel_approve"
	TypeChannelReject  = "channel_reject"
)

// Envelope is the flat wire unit exchanged over a connection, inbound and
// outbound alike. Every frame carries a type; the remaining fields are
// type-specific and omitted when empty.
type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

func pongEnvelope() *Envelope {
	return &Envelope{Type: TypePong}
}

func ackEnvelope() *Envelope {
	return &Envelope{Type: TypeAck}
}

func errorEnvelope(message string) *Envelope {
	return &Envelope{Type: TypeError, Message: message}
}

func infoEnvelope(message, channel string) *Envelope {
	return &Envelope{Type: TypeInfo, Message: message, Channel: channel}
}
