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

// Package sender implements the sender strategy (spec §4.H): it
// schedules test packets, correlates replies, and computes result
// statistics once the run ends. The worker/queue send-then-read-tx
// idiom is grounded on ptp4u/server/{server,worker}.go, wired here
// onto the reactor event loop instead of ptp4u's blocking goroutine
// pool.
package sender

import (
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twamp-go/twamp/metrics"
	"github.com/twamp-go/twamp/ntp"
	"github.com/twamp-go/twamp/reactor"
	"github.com/twamp-go/twamp/report"
	"github.com/twamp-go/twamp/session"
	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/stats"
	"github.com/twamp-go/twamp/wire"
)

// txCorrectionInterval is the ~150ms cadence spec §4.H requires for
// draining tx timestamps out of the kernel error queue.
const txCorrectionInterval = 150 * time.Millisecond

// Config is the sender strategy's runtime configuration, distilled
// from the broader config.Config surface (spec §6).
type Config struct {
	Local              *net.UDPAddr
	Targets            []*net.UDPAddr
	PacketInterval     time.Duration
	Duration           time.Duration
	Padding            int
	LastMessageTimeout time.Duration
	DSCP               int
	Metrics            *metrics.Exporter // optional
}

// Sender owns the UDP test socket, the reactor loop, and one session
// per configured target.
type Sender struct {
	cfg      Config
	sock     *socket.UDPSocket
	loop     *reactor.Loop
	registry *session.Registry
	order    []*session.Session // index-aligned with cfg.Targets, for tx-correction round robin
}

// New builds a Sender with one session per target and a bound,
// timestamped UDP socket, but does not start the loop. The Sender
// creates that one socket and every session's traffic shares it;
// sessions do not build sockets of their own.
func New(cfg Config) (*Sender, error) {
	sock, err := socket.NewUDPSocket(cfg.Local, cfg.DSCP)
	if err != nil {
		return nil, errors.Wrap(err, "sender: create socket")
	}
	loop, err := reactor.NewLoop()
	if err != nil {
		sock.Close()
		return nil, errors.Wrap(err, "sender: create reactor")
	}
	registry := session.NewRegistry()
	order := make([]*session.Session, len(cfg.Targets))
	for i, target := range cfg.Targets {
		s := session.New(sock.LocalAddr(), target)
		registry.Put(s)
		order[i] = s
	}
	return &Sender{cfg: cfg, sock: sock, loop: loop, registry: registry, order: order}, nil
}

// Close releases the socket and reactor.
func (s *Sender) Close() {
	_ = s.loop.Close()
	_ = s.sock.Close()
}

// Run drives the full sender strategy to completion and returns the
// per-target result tree (spec §4.H, §6).
func (s *Sender) Run() (*report.Run, error) {
	anchor, err := s.loop.Register(s.sock, s.rxCallback)
	if err != nil {
		return nil, errors.Wrap(err, "sender: register socket")
	}
	if _, err := s.loop.RegisterTimer(s.cfg.PacketInterval, anchor, s.txCallback); err != nil {
		return nil, errors.Wrap(err, "sender: register tx timer")
	}
	if _, err := s.loop.RegisterTimer(txCorrectionInterval, anchor, s.txCorrectionCallback); err != nil {
		return nil, errors.Wrap(err, "sender: register tx-correction timer")
	}
	if _, err := s.loop.AddDuration(s.cfg.Duration); err != nil {
		return nil, errors.Wrap(err, "sender: arm deadline")
	}
	s.loop.SetOvertime(s.cfg.LastMessageTimeout)

	if err := s.loop.Run(); err != nil {
		return nil, errors.Wrap(err, "sender: run loop")
	}
	return s.computeResults(), nil
}

func (s *Sender) txCallback(src reactor.FdSource, _ reactor.Token) {
	sock := src.(*socket.UDPSocket)
	for i, target := range s.cfg.Targets {
		sess := s.order[i]
		seq := sess.NextSeq()
		msg := wire.SenderMessage{
			Seq:     seq,
			Time:    ntp.Now(),
			Err:     wire.ErrorEstimate{S: 1, Z: 0, Scale: 0, Multiplier: 1},
			Padding: make([]byte, wire.MinUnauthPadding+s.cfg.Padding),
		}
		buf, err := wire.Bytes(msg)
		if err != nil {
			log.Errorf("sender: encode SenderMessage: %v", err)
			continue
		}
		_, t1, err := sock.SendTo(target, buf)
		if err != nil {
			log.Errorf("sender: send to %s: %v", target, err)
			continue
		}
		sess.RecordSent(seq, t1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.PacketsSent.Inc()
		}
	}
}

func (s *Sender) txCorrectionCallback(src reactor.FdSource, _ reactor.Token) {
	sock := src.(*socket.UDPSocket)
	timestamps, err := sock.RetrieveTXTimestamps()
	if err != nil {
		log.Errorf("sender: retrieve tx timestamps: %v", err)
		return
	}
	n := len(s.order)
	if n == 0 {
		return
	}
	// Round-robin partition by target index, matching the order
	// txCallback sent in (spec §4.H).
	for i, ts := range timestamps {
		s.order[i%n].ApplyTXCorrections([]ntp.DateTime{ts})
	}
}

func (s *Sender) rxCallback(src reactor.FdSource, _ reactor.Token) {
	sock := src.(*socket.UDPSocket)
	buf := make([]byte, wire.MaxTestMessageSize)
	for {
		n, peer, rxTS, err := sock.ReceiveFrom(buf)
		if err != nil {
			log.Errorf("sender: receive: %v", err)
			return
		}
		if n == 0 {
			return // EAGAIN: no more datagrams waiting
		}
		var msg wire.ReflectedMessage
		if err := msg.UnmarshalBinary(buf[:n]); err != nil {
			log.Warningf("sender: decode ReflectedMessage from %s: %v", peer, err)
			continue
		}
		sess, ok := s.registry.Get(s.sock.LocalAddr(), peer)
		if !ok {
			log.Warningf("sender: reply from unknown peer %s", peer)
			continue
		}
		if sess.RecordReceived(&msg, rxTS) && s.cfg.Metrics != nil {
			s.cfg.Metrics.PacketsReceived.Inc()
		}
	}
}

func (s *Sender) computeResults() *report.Run {
	run := &report.Run{SessionResults: make([]report.SessionResult, len(s.order))}
	for i, sess := range s.order {
		run.SessionResults[i] = summarize(s.cfg.Targets[i], sess)
	}
	return run
}

func summarize(target *net.UDPAddr, sess *session.Session) report.SessionResult {
	records := sess.Results()
	loss := sess.LossAnalysis()

	var rtt, fwd, bwd, rpd stats.Tree
	var fwdOWDInOrder []float64
	for _, r := range records {
		if v, ok := r.RTT(); ok {
			rtt.Insert(v)
		}
		if v, ok := r.ForwardOWD(); ok {
			fwd.Insert(v)
			fwdOWDInOrder = append(fwdOWDInOrder, v)
		}
		if v, ok := r.BackwardOWD(); ok {
			bwd.Insert(v)
		}
		if v, ok := r.RPD(); ok {
			rpd.Insert(v)
		}
	}

	// Jitter is the mean absolute difference of *consecutive* OWDs in
	// packet order (spec §9), so it walks fwdOWDInOrder as collected
	// from records, never the ascending-sorted stats.Tree.Values().
	avgJitter, stdJitter := jitterStats(fwdOWDInOrder)

	result := report.SessionResult{
		Address: target.String(),
		Status:  "ok",
		Statistics: &report.SessionStatistics{
			RTT:          summaryOf(&rtt),
			ForwardOWD:   summaryOf(&fwd),
			BackwardOWD:  summaryOf(&bwd),
			ProcessTime:  summaryOf(&rpd),
			ForwardLoss:  loss.Forward,
			BackwardLoss: loss.Backward,
			TotalLoss:    loss.Total,
			TotalPackets: len(records),
			AvgJitter:    report.Round3(avgJitter),
			StdJitter:    report.Round3(stdJitter),
		},
	}
	if offset, ok := sess.GamlrOffset(); ok {
		rounded := report.Round3(offset)
		result.Statistics.GamlrOffset = &rounded
	}
	return result
}

func summaryOf(t *stats.Tree) report.NetworkStatistics {
	mean, _ := t.Mean()
	min, _ := t.Min()
	max, _ := t.Max()
	std, _ := t.StdDev()
	median, _ := t.Median()
	p25, _ := t.Percentile(25)
	p75, _ := t.Percentile(75)
	return report.NetworkStatistics{
		Avg:    report.Round3(mean),
		Min:    report.Round3(min),
		Max:    report.Round3(max),
		StdDev: report.Round3(std),
		Median: report.Round3(median),
		P25:    report.Round3(p25),
		P75:    report.Round3(p75),
	}
}

// jitterStats computes RFC3393-simplified jitter (spec §9): the mean
// absolute difference of consecutive one-way delays, plus its std dev
// across the run, explicitly not the IETF IPDV formula.
func jitterStats(owd []float64) (avg, std float64) {
	if len(owd) < 2 {
		return 0, 0
	}
	var diffs stats.Tree
	for i := 1; i < len(owd); i++ {
		d := owd[i] - owd[i-1]
		if d < 0 {
			d = -d
		}
		diffs.Insert(d)
	}
	mean, _ := diffs.Mean()
	sd, _ := diffs.StdDev()
	return mean, sd
}
