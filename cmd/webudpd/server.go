package main

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/webudp/internal/engine"
	"github.com/1ureka/webudp/internal/host"
	"github.com/1ureka/webudp/internal/udpstream"
	"github.com/1ureka/webudp/internal/util"
)

const (
	pollTimeout     = 2 * time.Second
	patternInterval = 50 * time.Millisecond
	patternSize     = 16 << 10
)

// server drives the host's event loop and keeps one frame stream per open
// client.
type server struct {
	h          *host.Host
	packetSize int

	mu      sync.Mutex
	streams map[engine.ClientID]*udpstream.Stream
}

func newServer(h *host.Host, packetSize int) *server {
	return &server{
		h:          h,
		packetSize: packetSize,
		streams:    make(map[engine.ClientID]*udpstream.Stream),
	}
}

// serve polls the host until ctx is cancelled.
func (s *server) serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, ok, err := s.h.Poll(pollTimeout)
		if errors.Is(err, host.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			s.handle(ev)
		}
	}
}

func (s *server) handle(ev host.Event) {
	switch ev.Type {
	case engine.EventClientJoin:
		addr, _ := s.h.ClientAddress(ev.Client)
		st, err := udpstream.NewStream(s.h, ev.Client, s.packetSize)
		if err != nil {
			util.LogError("failed to create stream for %s: %v", addr, err)
			s.h.RemoveClient(ev.Client)
			return
		}
		s.h.SetUserData(ev.Client, st)

		s.mu.Lock()
		s.streams[ev.Client] = st
		s.mu.Unlock()
		util.LogInfo("client join %s", addr)

	case engine.EventClientLeave:
		if st, ok := ev.User.(*udpstream.Stream); ok {
			s.mu.Lock()
			delete(s.streams, st.Client())
			s.mu.Unlock()
			util.LogInfo("client leave %s (%d bytes streamed)", ev.Address, st.Len())
			return
		}
		util.LogInfo("client leave %s", ev.Address)

	default:
		util.LogWarning("client %s sent %s data, this is unexpected", ev.Address, ev.Type)
	}
}

// pushPattern writes a synthetic frame to every stream each interval.
// It runs on its own goroutine, so every send crosses into the host from
// outside the poll loop.
func (s *server) pushPattern(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frame := make([]byte, patternSize)
	var n uint32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n++
		fillPattern(frame, n)

		s.mu.Lock()
		streams := make([]*udpstream.Stream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.mu.Unlock()

		for _, st := range streams {
			if st.Failed() {
				continue
			}
			st.SetFrameNumber(n)
			if _, err := st.Write(frame); err != nil {
				util.LogDebug("pattern write: %v", err)
				continue
			}
			if err := st.Flush(); err != nil {
				util.LogDebug("pattern flush: %v", err)
			}
		}
	}
}

// fillPattern writes a frame that changes with n, prefixed by n itself.
func fillPattern(b []byte, n uint32) {
	binary.LittleEndian.PutUint32(b, n)
	for i := 4; i < len(b); i++ {
		b[i] = byte(uint32(i) + n)
	}
}
