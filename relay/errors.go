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

import "errors"

var (
	// ErrInvalidIdentity is returned when a string fails the identity
	// format predicate.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidChannelName is returned when a channel name does not match
	// the two-participant naming pattern.
	ErrInvalidChannelName = errors.New("invalid channel name")
)
