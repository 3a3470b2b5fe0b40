/***********************************************************************************************************************
 *
 *   MIT License
 *
 *   Copyright (c) 2024 Nicolas JUHEL
 *
 *   Permission is hereby granted, free of charge, to any person obtaining a copy
 *   of this software and associated documentation files (the "Software"), to deal
 *   in the Software without restriction, including without limitation the rights
 *   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *   copies of the Software, and to permit persons to whom the Software is
 *   furnished to do so, subject to the following conditions:
 *
 *   The above copyright notice and this permission notice shall be included in all
 *   copies or substantial portions of the Software.
 *
 *   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *   SOFTWARE.
 *
 *
 **********************************************************************************************************************/

// Package protocol enumerates the network families an endpoint connection can be
// built on top of, the same way the distilled specification's transport list does
// (peer_prefix in the data model).
package protocol

import (
	"strconv"
	"strings"
)

// NetworkProtocol is the family of a listener or dialer: stream (tcp/unix) or
// datagram (udp/unixgram), plus the bare "ip" raw-socket family.
type NetworkProtocol uint8

const (
	NetworkEmpty NetworkProtocol = iota
	NetworkUnix
	NetworkTCP
	NetworkTCP4
	NetworkTCP6
	NetworkUDP
	NetworkUDP4
	NetworkUDP6
	NetworkIP
	NetworkIP4
	NetworkIP6
	NetworkUnixGram
)

var names = map[NetworkProtocol]string{
	NetworkUnix:     "unix",
	NetworkTCP:      "tcp",
	NetworkTCP4:     "tcp4",
	NetworkTCP6:     "tcp6",
	NetworkUDP:      "udp",
	NetworkUDP4:     "udp4",
	NetworkUDP6:     "udp6",
	NetworkIP:       "ip",
	NetworkIP4:      "ip4",
	NetworkIP6:      "ip6",
	NetworkUnixGram: "unixgram",
}

var byName map[string]NetworkProtocol

func init() {
	byName = make(map[string]NetworkProtocol, len(names))
	for p, n := range names {
		byName[n] = p
	}
}

// String returns the lowercase network name as accepted by net.Dial/net.Listen,
// or "" for NetworkEmpty and any out-of-range value.
func (p NetworkProtocol) String() string {
	return names[p]
}

// Code is an alias of String kept for symmetry with the rest of this module's
// enum types that expose both a String and a Code accessor.
func (p NetworkProtocol) Code() string {
	return p.String()
}

// Int returns the protocol's ordinal, 0 for NetworkEmpty and any unknown value.
func (p NetworkProtocol) Int() int {
	if _, ok := names[p]; !ok {
		return 0
	}
	return int(p)
}

// Int64 is the int64 form of Int.
func (p NetworkProtocol) Int64() int64 {
	return int64(p.Int())
}

// Uint is the uint form of Int.
func (p NetworkProtocol) Uint() uint {
	return uint(p.Int())
}

// IsStream reports whether the protocol is a connection-oriented stream transport.
func (p NetworkProtocol) IsStream() bool {
	switch p {
	case NetworkUnix, NetworkTCP, NetworkTCP4, NetworkTCP6:
		return true
	default:
		return false
	}
}

// IsDatagram reports whether the protocol is a connectionless datagram transport.
func (p NetworkProtocol) IsDatagram() bool {
	switch p {
	case NetworkUDP, NetworkUDP4, NetworkUDP6, NetworkUnixGram:
		return true
	default:
		return false
	}
}

// IsTCP reports whether the protocol is one of the TCP address families.
func (p NetworkProtocol) IsTCP() bool {
	switch p {
	case NetworkTCP, NetworkTCP4, NetworkTCP6:
		return true
	default:
		return false
	}
}

// IsUDP reports whether the protocol is one of the UDP address families.
func (p NetworkProtocol) IsUDP() bool {
	switch p {
	case NetworkUDP, NetworkUDP4, NetworkUDP6:
		return true
	default:
		return false
	}
}

// Parse resolves a protocol name case-insensitively, returning NetworkEmpty when
// the string does not name a known protocol.
func Parse(s string) NetworkProtocol {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'`)
	if p, ok := byName[s]; ok {
		return p
	}
	return NetworkEmpty
}

// ParseByte is the []byte counterpart of Parse.
func ParseByte(b []byte) NetworkProtocol {
	return Parse(string(b))
}

// ParseInt resolves the numeric ordinal of a protocol, returning NetworkEmpty for
// any value outside the enum's valid range.
func ParseInt(v int64) NetworkProtocol {
	p := NetworkProtocol(v)
	if _, ok := names[p]; !ok {
		return NetworkEmpty
	}
	return p
}

// MarshalJSON encodes the protocol as its quoted name, "" for NetworkEmpty.
func (p NetworkProtocol) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

// UnmarshalJSON accepts a quoted protocol name; unknown names decode to NetworkEmpty
// without error, mirroring Parse.
func (p *NetworkProtocol) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		s = string(data)
	}
	*p = Parse(s)
	return nil
}

// MarshalYAML encodes the protocol as its plain name string.
func (p NetworkProtocol) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML accepts a plain name string.
func (p *NetworkProtocol) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*p = Parse(s)
	return nil
}

// MarshalTOML encodes the protocol as a quoted TOML string.
func (p NetworkProtocol) MarshalTOML() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}
