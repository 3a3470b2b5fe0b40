/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package config describes the validated configuration of one receiver (Server)
// or sender (Client) endpoint: which network family and address it binds to, its
// file permissions when it is a Unix socket, and its TLS posture.
package config

import (
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"

	libtls "github.com/sabouaram/endpoint/certificates"
	libprm "github.com/sabouaram/endpoint/file/perm"
	libptc "github.com/sabouaram/endpoint/network/protocol"
)

// MaxGID is the largest group id this module accepts for a Unix socket's group
// ownership; it is deliberately below the kernel's gid_t range to catch obvious
// config typos (a 6-digit "group id" is almost always a copy-paste mistake).
const MaxGID = 65535

var (
	ErrInvalidProtocol  = fmt.Errorf("socket/config: invalid protocol for this address")
	ErrInvalidTLSConfig = fmt.Errorf("socket/config: invalid TLS config")
	ErrInvalidGroup     = fmt.Errorf("socket/config: invalid unix group id")
)

var validate = validator.New()

// TLSClient is the client-side TLS posture: enabled or not, the material to use,
// and the server name presented during the handshake.
type TLSClient struct {
	Enabled    bool
	Config     libtls.Config
	ServerName string

	def libtls.TLSConfig
}

// DefaultTLS records a fallback TLSConfig used by GetTLS when Config carries no
// material of its own (e.g. a client that only needs the system trust store).
func (t *TLSClient) DefaultTLS(def libtls.TLSConfig) {
	t.def = def
}

// GetTLS resolves the effective TLS posture for this client.
func (t *TLSClient) GetTLS() (bool, libtls.TLSConfig, string) {
	if !t.Enabled {
		return false, nil, ""
	}
	tc := t.Config.New()
	if tc == nil {
		tc = t.def
	}
	return true, tc, t.ServerName
}

func (t *TLSClient) validate(network libptc.NetworkProtocol) error {
	if !t.Enabled {
		return nil
	}
	if !network.IsStream() || network == libptc.NetworkUnix {
		return ErrInvalidTLSConfig
	}
	if t.ServerName == "" {
		return ErrInvalidTLSConfig
	}
	return nil
}

// TLSServer is the server-side TLS posture: enabled or not, and the certificate
// material to present to connecting peers.
type TLSServer struct {
	Enabled bool
	Config  libtls.Config

	def libtls.TLSConfig
}

// DefaultTLS records a fallback TLSConfig used by GetTLS when Config carries no
// certificate material of its own.
func (t *TLSServer) DefaultTLS(def libtls.TLSConfig) {
	t.def = def
}

// GetTLS resolves the effective TLS posture for this server.
func (t *TLSServer) GetTLS() (bool, libtls.TLSConfig) {
	if !t.Enabled {
		return false, nil
	}
	tc := t.Config.New()
	if tc == nil {
		tc = t.def
	}
	return true, tc
}

func (t *TLSServer) validate(network libptc.NetworkProtocol) error {
	if !t.Enabled {
		return nil
	}
	if !network.IsStream() || network == libptc.NetworkUnix {
		return ErrInvalidTLSConfig
	}
	if len(t.Config.Certs) == 0 {
		return ErrInvalidTLSConfig
	}
	return nil
}

// Client is the validated configuration of a sender endpoint.
type Client struct {
	Network libptc.NetworkProtocol `mapstructure:"network" json:"network" yaml:"network"`
	Address string                 `mapstructure:"address" json:"address" yaml:"address" validate:"required"`
	TLS     TLSClient              `mapstructure:"tls" json:"tls" yaml:"tls"`

	// ConIdleTimeout records an idle timeout for the connection. The client
	// shell in socket/client does not read it, so it closes nothing by itself.
	ConIdleTimeout time.Duration `mapstructure:"con_idle_timeout" json:"con_idle_timeout" yaml:"con_idle_timeout"`
}

// Validate checks the network/address pair resolves and that TLS, when enabled,
// is only requested on a transport that supports it.
func (c Client) Validate() error {
	if err := validateAddress(c.Network, c.Address); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.TLS.validate(c.Network)
}

// Server is the validated configuration of a receiver endpoint.
type Server struct {
	Network   libptc.NetworkProtocol `mapstructure:"network" json:"network" yaml:"network"`
	Address   string                 `mapstructure:"address" json:"address" yaml:"address" validate:"required"`
	PermFile  libprm.Perm            `mapstructure:"perm_file" json:"perm_file" yaml:"perm_file"`
	GroupPerm int32                  `mapstructure:"group_perm" json:"group_perm" yaml:"group_perm"`
	TLS       TLSServer              `mapstructure:"tls" json:"tls" yaml:"tls"`

	// ConIdleTimeout records an idle timeout for connections. The server
	// shell in socket/server does not read it, so it closes nothing by itself.
	ConIdleTimeout time.Duration `mapstructure:"con_idle_timeout" json:"con_idle_timeout" yaml:"con_idle_timeout"`
}

// Validate checks the network/address pair resolves, the unix group id (if any)
// is in range, and that TLS, when enabled, carries certificate material and is
// only requested on a transport that supports it.
func (s Server) Validate() error {
	if err := validateAddress(s.Network, s.Address); err != nil {
		return err
	}
	if err := validate.Struct(s); err != nil {
		return err
	}
	if s.GroupPerm < -1 || s.GroupPerm > MaxGID {
		return ErrInvalidGroup
	}
	return s.TLS.validate(s.Network)
}

// validateAddress resolves address against the transport family Network names,
// the same check net.Listen/net.Dial would perform, without actually opening a
// socket.
func validateAddress(network libptc.NetworkProtocol, address string) error {
	switch network {
	case libptc.NetworkTCP, libptc.NetworkTCP4, libptc.NetworkTCP6:
		_, err := net.ResolveTCPAddr(network.String(), address)
		return err
	case libptc.NetworkUDP, libptc.NetworkUDP4, libptc.NetworkUDP6:
		_, err := net.ResolveUDPAddr(network.String(), address)
		return err
	case libptc.NetworkUnix, libptc.NetworkUnixGram:
		if runtime.GOOS == "windows" {
			return ErrInvalidProtocol
		}
		_, err := net.ResolveUnixAddr(network.String(), address)
		return err
	case libptc.NetworkIP, libptc.NetworkIP4, libptc.NetworkIP6:
		_, err := net.ResolveIPAddr(network.String(), address)
		return err
	default:
		return ErrInvalidProtocol
	}
}
