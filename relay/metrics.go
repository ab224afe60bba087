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

import "github.com/ethereum/go-ethereum/metrics"

var (
	connectionsGauge = metrics.NewRegisteredGauge("relay/connections", nil)
	channelsGauge    = metrics.NewRegisteredGauge("relay/channels", nil)
	requestsGauge    = metrics.NewRegisteredGauge("relay/requests", nil)

	inboundMeter      = metrics.NewRegisteredMeter("relay/inbound", nil)
	fanoutSentMeter   = metrics.NewRegisteredMeter("relay/fanout/sent", nil)
	fanoutFailedMeter = metrics.NewRegisteredMeter("relay/fanout/failed", nil)
	protocolErrMeter  = metrics.NewRegisteredMeter("relay/errors", nil)
)
