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

package node

import "fmt"

const (
	DefaultHost = "localhost"
	DefaultPort = 8600
)

// Config collects the relay node's network settings.
type Config struct {
	// Host is the interface the HTTP/websocket endpoint binds to.
	Host string

	// Port is the TCP port of the endpoint. Port 0 picks a random free port.
	Port int

	// WSOrigins is the list of origins accepted during the websocket
	// handshake. "*" accepts any origin.
	WSOrigins []string

	// CORSOrigins enables CORS on the HTTP endpoints for the given origins.
	CORSOrigins []string
}

// DefaultConfig holds the default node settings.
var DefaultConfig = Config{
	Host: DefaultHost,
	Port: DefaultPort,
}

func (c *Config) endpoint() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}
