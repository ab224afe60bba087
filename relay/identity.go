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
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// channelSeparator joins the two participant identities of a channel name.
const channelSeparator = ":"

// ParseIdentity checks the given string against the address format predicate
// and returns its canonical form. Comparison of identities is therefore
// case-insensitive: "0xAbC..." and "0xabc..." resolve to the same identity.
func ParseIdentity(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidIdentity, s)
	}
	return common.HexToAddress(s), nil
}

// ChannelName derives the canonical channel name for an unordered pair of
// identities. The lower-cased hex forms are ordered lexicographically and
// joined, so ChannelName(a, b) == ChannelName(b, a) for any pair.
func ChannelName(a, b common.Address) string {
	x, y := strings.ToLower(a.Hex()), strings.ToLower(b.Hex())
	if x > y {
		x, y = y, x
	}
	return x + channelSeparator + y
}

// ChannelParticipants parses a channel name back into its two founding
// identities. It fails if the name does not match the two-participant
// naming pattern produced by ChannelName.
func ChannelParticipants(name string) (common.Address, common.Address, error) {
	first, second, ok := strings.Cut(name, channelSeparator)
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrInvalidChannelName, name)
	}
	a, err := ParseIdentity(first)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrInvalidChannelName, name)
	}
	b, err := ParseIdentity(second)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrInvalidChannelName, name)
	}
	if ChannelName(a, b) != name {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrInvalidChannelName, name)
	}
	return a, b, nil
}
