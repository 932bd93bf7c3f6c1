/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package reflector implements the reflector strategy (spec §4.I): a
// single UDP socket that echoes every SenderMessage it receives as a
// ReflectedMessage, and a periodic sweep that evicts idle sessions.
// The bind-one-socket/evict-on-a-timer shape is grounded on
// ntp/responder/server/server.go and ptp4u/server/server.go.
package reflector

import (
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twamp-go/twamp/metrics"
	"github.com/twamp-go/twamp/ntp"
	"github.com/twamp-go/twamp/reactor"
	"github.com/twamp-go/twamp/session"
	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/wire"
)

// evictInterval is the per-second idle-sweep cadence spec §4.I requires.
const evictInterval = time.Second

// reflectorErrorEstimate is this process's own clock-sync-quality
// estimate, reported in every ReflectedMessage's Err field — distinct
// from SenderErr, which mirrors what the sender reported about itself
// (RFC 5357 §4.2.1).
var reflectorErrorEstimate = wire.ErrorEstimate{S: 1, Multiplier: 1}

// Config is the reflector's runtime configuration.
type Config struct {
	Local   *net.UDPAddr
	DSCP    int
	RefWait time.Duration
	Metrics *metrics.Exporter // optional
}

// Reflector owns the UDP test socket, the reactor loop, and the
// registry of sessions created lazily on first receipt.
type Reflector struct {
	cfg      Config
	sock     *socket.UDPSocket
	loop     *reactor.Loop
	registry *session.Registry
}

// New binds the reflector's UDP socket and reactor loop but does not
// start serving.
func New(cfg Config) (*Reflector, error) {
	sock, err := socket.NewUDPSocket(cfg.Local, cfg.DSCP)
	if err != nil {
		return nil, errors.Wrap(err, "reflector: create socket")
	}
	loop, err := reactor.NewLoop()
	if err != nil {
		sock.Close()
		return nil, errors.Wrap(err, "reflector: create reactor")
	}
	return &Reflector{cfg: cfg, sock: sock, loop: loop, registry: session.NewRegistry()}, nil
}

// Close releases the socket and reactor.
func (r *Reflector) Close() {
	_ = r.loop.Close()
	_ = r.sock.Close()
}

// LocalAddr returns the bound test-socket address.
func (r *Reflector) LocalAddr() *net.UDPAddr {
	return r.sock.LocalAddr()
}

// CommunicationChannel exposes the reactor's cross-thread registration
// channel. The Full Reflector does not use it to tear sessions down on
// ControlMessage(StopSessions); it calls Close on each Reflector.
func (r *Reflector) CommunicationChannel() chan<- reactor.RegisterMsg {
	return r.loop.CommunicationChannel()
}

// Run serves indefinitely until the reactor stops (which, absent any
// deadline, only happens on backend failure or explicit Close).
func (r *Reflector) Run() error {
	anchor, err := r.loop.Register(r.sock, r.rxCallback)
	if err != nil {
		return errors.Wrap(err, "reflector: register socket")
	}
	if _, err := r.loop.RegisterTimer(evictInterval, anchor, r.evictCallback); err != nil {
		return errors.Wrap(err, "reflector: register eviction timer")
	}
	return errors.Wrap(r.loop.Run(), "reflector: run loop")
}

func (r *Reflector) evictCallback(_ reactor.FdSource, _ reactor.Token) {
	r.registry.EvictIdle(time.Now(), r.cfg.RefWait)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveSessions.Set(float64(len(r.registry.All())))
	}
}

func (r *Reflector) rxCallback(src reactor.FdSource, _ reactor.Token) {
	sock := src.(*socket.UDPSocket)
	buf := make([]byte, wire.MaxTestMessageSize)
	for {
		n, peer, rxTS, err := sock.ReceiveFrom(buf)
		if err != nil {
			log.Errorf("reflector: receive: %v", err)
			return
		}
		if n == 0 {
			return // EAGAIN: no more datagrams waiting
		}
		var msg wire.SenderMessage
		if err := msg.UnmarshalBinary(buf[:n]); err != nil {
			log.Warningf("reflector: decode SenderMessage from %s: %v", peer, err)
			continue
		}

		sess := r.registry.GetOrCreate(r.sock.LocalAddr(), peer)
		reflectorSeq := sess.NextReflectorSeq()

		reply := wire.ReflectedMessage{
			ReflectorSeq: reflectorSeq,
			Time:         ntp.Now(),
			Err:          reflectorErrorEstimate,
			ReceiveTime:  rxTS,
			SenderSeq:    msg.Seq,
			SenderTime:   msg.Time,
			SenderErr:    msg.Err,
			SenderTTL:    64,
			Padding:      msg.Padding,
		}
		out, err := wire.Bytes(reply)
		if err != nil {
			log.Errorf("reflector: encode ReflectedMessage: %v", err)
			continue
		}
		if _, txTS, err := sock.SendTo(peer, out); err != nil {
			log.Errorf("reflector: send to %s: %v", peer, err)
		} else {
			sess.RecordReflected(msg.Seq, msg.Time, reflectorSeq, rxTS, txTS)
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.PacketsReceived.Inc()
				r.cfg.Metrics.PacketsSent.Inc()
			}
		}
	}
}
