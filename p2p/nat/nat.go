// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

// Package nat maps the host's RLPx listening port through a UPnP or
// NAT-PMP gateway, trying NAT-PMP first and falling back to UPnP, per
// original_source/libp2p/UPnP.cpp's dual-protocol approach.
package nat

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// ErrNoGateway is returned when neither NAT-PMP nor UPnP discovery finds a
// usable gateway.
var ErrNoGateway = errors.New("nat: no NAT-PMP or UPnP gateway found")

const mappingLifetime = 20 * time.Minute

// Mapper holds whichever gateway client discovery succeeded with, mapping
// and renewing a single external TCP port for the life of the host.
type Mapper struct {
	pmp  *natpmp.Client
	upnp *internetgateway1.WANIPConnection1

	externalIP net.IP
	mappedPort int
}

// Discover probes for a NAT-PMP gateway first (cheap, no SSDP round trip),
// then UPnP IGDv1. Returns ErrNoGateway if neither responds.
func Discover() (*Mapper, error) {
	if gw, err := guessGateway(); err == nil {
		pmp := natpmp.NewClient(gw)
		if res, err := pmp.GetExternalAddress(); err == nil {
			ip := res.ExternalIPAddress
			return &Mapper{pmp: pmp, externalIP: net.IPv4(ip[0], ip[1], ip[2], ip[3])}, nil
		}
	}
	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err == nil && len(clients) > 0 {
		m := &Mapper{upnp: clients[0]}
		if ipStr, err := m.upnp.GetExternalIPAddress(); err == nil {
			m.externalIP = net.ParseIP(ipStr)
		}
		return m, nil
	}
	return nil, ErrNoGateway
}

// ExternalIP returns the gateway's public address, or nil if it could not
// be determined.
func (m *Mapper) ExternalIP() net.IP { return m.externalIP }

// Map requests a TCP port mapping from internal port to the same external
// port, renewable via Renew for mappingLifetime.
func (m *Mapper) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, int(mappingLifetime.Seconds())); err != nil {
			return err
		}
		m.mappedPort = port
		return nil
	}
	if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), localAddrString(), true, "aleth", uint32(mappingLifetime.Seconds())); err != nil {
		return err
	}
	m.mappedPort = port
	return nil
}

// Renew re-requests the existing mapping; callers should call this roughly
// every mappingLifetime while the host is running.
func (m *Mapper) Renew() error {
	if m.mappedPort == 0 {
		return nil
	}
	return m.Map(m.mappedPort)
}

// Unmap removes the mapping created by Map, if any.
func (m *Mapper) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("tcp", m.mappedPort, m.mappedPort, 0)
		m.mappedPort = 0
		return err
	}
	err := m.upnp.DeletePortMapping("", uint16(m.mappedPort), "TCP")
	m.mappedPort = 0
	return err
}

// localAddrString returns this host's first non-loopback IPv4 address, the
// internal endpoint UPnP's AddPortMapping forwards to.
func localAddrString() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// guessGateway assumes the classic home-router layout: the gateway sits at
// the ".1" address of the host's local subnet. NAT-PMP has no discovery
// protocol of its own, so this is the same heuristic small NAT-PMP clients
// commonly fall back to when nothing more authoritative is available.
func guessGateway() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		gw := make(net.IP, 4)
		copy(gw, ip4)
		gw[3] = 1
		return gw, nil
	}
	return nil, fmt.Errorf("nat: no usable local interface")
}
