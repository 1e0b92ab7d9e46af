// Package discovery lets agents find the hub on the local network without
// configuration. The hub multicasts a small JSON announcement on a fixed
// group; an agent listens until it hears one and dials the advertised URL.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	multicastAddr   = "239.0.0.1"
	maxDatagramSize = 8192
)

// Announcement is the multicast payload.
type Announcement struct {
	Name string `json:"name"`
	URL  string `json:"url"` // ws:// endpoint of the hub
}

// Announcer periodically multicasts the hub's presence.
type Announcer struct {
	port     int
	interval time.Duration
	ann      Announcement
}

func NewAnnouncer(port int, interval time.Duration, ann Announcement) *Announcer {
	return &Announcer{port: port, interval: interval, ann: ann}
}

// Run multicasts until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", multicastAddr, a.port))
	if err != nil {
		return fmt.Errorf("resolve announce addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial announce addr: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(a.ann)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if _, err := conn.Write(data); err != nil {
			logrus.WithError(err).Debug("Announce write failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Locate listens on the multicast group until a hub announcement arrives or
// ctx expires.
func Locate(ctx context.Context, port int) (Announcement, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", multicastAddr, port))
	if err != nil {
		return Announcement{}, fmt.Errorf("resolve discovery addr: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return Announcement{}, fmt.Errorf("listen discovery: %w", err)
	}
	defer conn.Close()
	conn.SetReadBuffer(maxDatagramSize)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Announcement{}, ctx.Err()
			}
			return Announcement{}, fmt.Errorf("discovery read: %w", err)
		}

		var ann Announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil || ann.URL == "" {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"hub": ann.Name,
			"url": ann.URL,
			"src": src.String(),
		}).Info("Found hub")
		return ann, nil
	}
}
