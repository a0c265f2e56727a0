// Package discovery finds radios on the local network by listening for
// their periodic UDP announcements.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftl/flexwave/flex"
	"github.com/ftl/flexwave/vita"
)

var log = logrus.WithField("component", "discovery")

// Port is the UDP port radios broadcast their announcements on.
const Port = 4992

// Discover listens for radio announcements and returns the control-plane
// address of the first radio heard, or an error when the timeout expires.
func Discover(timeout time.Duration) (*net.UDPAddr, error) {
	return DiscoverOn(&net.UDPAddr{IP: net.IPv4zero, Port: Port}, timeout)
}

// DiscoverOn listens on the given local address instead of the default
// discovery port.
func DiscoverOn(listen *net.UDPAddr, timeout time.Duration) (*net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("cannot listen for discovery announcements: %w", err)
	}
	defer conn.Close()
	err = conn.SetReadDeadline(time.Now().Add(timeout))
	if err != nil {
		return nil, fmt.Errorf("cannot limit the discovery wait: %w", err)
	}

	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("no radio found within %v: %w", timeout, err)
		}

		packet, err := vita.Decode(buf[:n])
		if err != nil {
			log.WithError(err).Debug("ignoring malformed datagram")
			continue
		}
		addr, err := parseAnnouncement(packet)
		if err != nil {
			log.WithError(err).Debug("ignoring datagram")
			continue
		}
		log.WithField("radio", addr).Info("radio discovered")
		return addr, nil
	}
}

// parseAnnouncement extracts the radio's control-plane address from a
// discovery packet. The payload is a protocol line with ip and port
// keyword arguments.
func parseAnnouncement(packet *vita.Packet) (*net.UDPAddr, error) {
	if packet.Type != vita.ExtDataWithStream {
		return nil, fmt.Errorf("not an announcement: packet type 0x%X", packet.Type)
	}
	if packet.StreamID != vita.DiscoveryStreamID {
		return nil, fmt.Errorf("not an announcement: stream id 0x%08X", packet.StreamID)
	}
	if packet.PacketClass != vita.DiscoveryClass {
		return nil, fmt.Errorf("not an announcement: packet class 0x%04X", packet.PacketClass)
	}

	words, err := flex.SplitWords(strings.TrimRight(string(packet.Payload), "\x00"))
	if err != nil {
		return nil, fmt.Errorf("cannot tokenize announcement: %w", err)
	}
	ipField, ok := flex.FindKeywordArg(words, "ip")
	if !ok {
		return nil, fmt.Errorf("no ip in announcement")
	}
	ip := net.ParseIP(ipField)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip %q in announcement", ipField)
	}
	portField, ok := flex.FindKeywordArg(words, "port")
	if !ok {
		return nil, fmt.Errorf("no port in announcement")
	}
	port, err := strconv.Atoi(portField)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q in announcement", portField)
	}

	return &net.UDPAddr{IP: ip, Port: port}, nil
}
