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

// Package session implements the per-peer record of sent/received test
// packets, loss analysis, and clock-offset fusion (spec §4.G). The
// mutator idiom (addT1/addT2.../cleanup under a mutex) is grounded on
// sptp/client/measurements.go; the exact semantics (record_sent,
// record_received, apply_tx_corrections, loss_analysis,
// calculate_gamlr_offset) follow twamp_common/session.rs.
package session

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/twamp-go/twamp/ntp"
	"github.com/twamp-go/twamp/stats"
	"github.com/twamp-go/twamp/wire"
)

// PacketResult is one record per test packet (spec §3).
type PacketResult struct {
	SenderSeq    uint32
	ReflectorSeq *uint32
	T1, T2, T3, T4 ntp.DateTime
}

// Complete reports whether all four timestamps and the reflector
// sequence are populated.
func (r *PacketResult) Complete() bool {
	return r.ReflectorSeq != nil && !r.T1.IsZero() && !r.T2.IsZero() && !r.T3.IsZero() && !r.T4.IsZero()
}

// RTT is t4-t1.
func (r *PacketResult) RTT() (float64, bool) {
	if r.T1.IsZero() || r.T4.IsZero() {
		return 0, false
	}
	return r.T4.Sub(r.T1).Seconds(), true
}

// ForwardOWD is t2-t1.
func (r *PacketResult) ForwardOWD() (float64, bool) {
	if r.T1.IsZero() || r.T2.IsZero() {
		return 0, false
	}
	return r.T2.Sub(r.T1).Seconds(), true
}

// BackwardOWD is t4-t3.
func (r *PacketResult) BackwardOWD() (float64, bool) {
	if r.T3.IsZero() || r.T4.IsZero() {
		return 0, false
	}
	return r.T4.Sub(r.T3).Seconds(), true
}

// RPD (remote processing delay) is t3-t2 (spec GLOSSARY).
func (r *PacketResult) RPD() (float64, bool) {
	if r.T2.IsZero() || r.T3.IsZero() {
		return 0, false
	}
	return r.T3.Sub(r.T2).Seconds(), true
}

// LossAnalysis is the (forward, backward, total) triple loss_analysis
// returns (spec §4.G, §8).
type LossAnalysis struct {
	Forward, Backward, Total int
}

// Session tracks one (local, remote) test-session's sent/received
// records and sequence counters (spec §3). It is safe for concurrent
// use by a receiver goroutine, a sender goroutine, and (in full mode)
// a control goroutine.
type Session struct {
	Local, Remote *net.UDPAddr

	seq         uint32 // sender's outbound sequence counter
	reflectorSeq uint32 // reflector's own reply sequence counter

	mu      sync.RWMutex
	results []*PacketResult
	hwm     int // high-water mark: results[:hwm] have a kernel-corrected t1

	lastActivity ntp.DateTime // newest record's t2, for reflector eviction (spec §9)
}

// New creates a session for the (local, remote) pair.
func New(local, remote *net.UDPAddr) *Session {
	return &Session{Local: local, Remote: remote}
}

// Key uniquely identifies a session by its (local, remote) pair
// (spec §3).
type Key struct {
	Local, Remote string
}

// KeyOf returns s's registry key.
func (s *Session) KeyOf() Key {
	return Key{Local: s.Local.String(), Remote: s.Remote.String()}
}

// NextSeq returns the next sender sequence number and advances the
// counter. A plain non-atomic increment is correct here: per spec §5
// the fetch-add is only ever read by the same goroutine that
// increments it, so relaxed ordering (no atomics at all, in Go terms)
// is the literal translation — atomic is used anyway because the
// result surface may read it for the packet count from another
// goroutine after the loop exits.
func (s *Session) NextSeq() uint32 {
	return atomic.AddUint32(&s.seq, 1) - 1
}

// NextReflectorSeq returns the next reflector-stamped sequence number
// (used only on the reflector side).
func (s *Session) NextReflectorSeq() uint32 {
	return atomic.AddUint32(&s.reflectorSeq, 1) - 1
}

// RecordSent appends a new "sent" record with the userspace send-side
// wall clock, later overwritten by a kernel tx timestamp via
// ApplyTXCorrections (spec §4.H).
func (s *Session) RecordSent(senderSeq uint32, t1 ntp.DateTime) {
	s.mu.Lock()
	s.results = append(s.results, &PacketResult{SenderSeq: senderSeq, T1: t1})
	s.mu.Unlock()
}

// RecordReceived matches msg's embedded sender-seq against an existing
// sent record and fills in the reflector-side fields. A message with
// no matching sent record is dropped (spec §4.G: "If no match, drop").
func (s *Session) RecordReceived(msg *wire.ReflectedMessage, t4 ntp.DateTime) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.SenderSeq == msg.SenderSeq {
			rseq := msg.ReflectorSeq
			r.ReflectorSeq = &rseq
			r.T2 = msg.ReceiveTime
			r.T3 = msg.Time
			r.T4 = t4
			if s.lastActivity.IsZero() || r.T2.Sub(s.lastActivity) > 0 {
				s.lastActivity = r.T2
			}
			return true
		}
	}
	return false
}

// RecordReflected appends the reflector-side view of one exchange: the
// sender's own send time, the kernel rx timestamp, and the reflector's
// send-back time, keyed under the reflector's own sequence counter
// (spec §4.I: "record it into the session"). The reflector never sees
// t4, so it is left zero.
func (s *Session) RecordReflected(senderSeq uint32, senderTime ntp.DateTime, reflectorSeq uint32, t2, t3 ntp.DateTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rseq := reflectorSeq
	s.results = append(s.results, &PacketResult{
		SenderSeq:    senderSeq,
		ReflectorSeq: &rseq,
		T1:           senderTime,
		T2:           t2,
		T3:           t3,
	})
	if s.lastActivity.IsZero() || t2.Sub(s.lastActivity) > 0 {
		s.lastActivity = t2
	}
}

// ApplyTXCorrections replaces t1 on every unconsumed record (those
// above the high-water mark) with the next kernel-reported tx
// timestamp, advancing the mark by exactly the number consumed
// (spec §4.G, §8).
func (s *Session) ApplyTXCorrections(tx []ntp.DateTime) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for _, ts := range tx {
		if s.hwm >= len(s.results) {
			break
		}
		s.results[s.hwm].T1 = ts
		s.hwm++
		applied++
	}
	return applied
}

// LossAnalysis sorts records by sender-seq and decomposes total loss
// into forward vs backward using a sliding (last-sender-seq,
// last-reflector-seq) pair to infer sequence-gap parity (spec §4.G).
// This heuristic is ambiguous for runs of more than one consecutive
// loss (spec §9 Open Question); the rule implemented here — accrue
// the gap delta into forward loss whenever it is non-negative, and
// assign whatever total loss remains to backward — is retained from
// the source verbatim rather than resolved, and pinned by a test.
func (s *Session) LossAnalysis() LossAnalysis {
	s.mu.RLock()
	records := make([]*PacketResult, len(s.results))
	copy(records, s.results)
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].SenderSeq < records[j].SenderSeq })

	total := 0
	for _, r := range records {
		if r.ReflectorSeq == nil {
			total++
		}
	}

	var forward int
	var lastSenderSeq, lastReflectorSeq uint32
	hasLast := false
	for _, r := range records {
		if r.ReflectorSeq == nil {
			continue
		}
		if hasLast {
			delta := int64(r.SenderSeq-lastSenderSeq) - int64(*r.ReflectorSeq-lastReflectorSeq)
			if delta >= 0 {
				forward += int(delta)
			}
		}
		lastSenderSeq = r.SenderSeq
		lastReflectorSeq = *r.ReflectorSeq
		hasLast = true
	}
	if forward > total {
		forward = total
	}
	return LossAnalysis{Forward: forward, Backward: total - forward, Total: total}
}

// LatestResult returns a snapshot of the newest completed packet, if any.
func (s *Session) LatestResult() (PacketResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].Complete() {
			return *s.results[i], true
		}
	}
	return PacketResult{}, false
}

// Results returns a snapshot copy of every record, in insertion order.
func (s *Session) Results() []PacketResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PacketResult, len(s.results))
	for i, r := range s.results {
		out[i] = *r
	}
	return out
}

// LastActivity returns the newest record's t2, used by the reflector's
// idle-eviction sweep (spec §4.I, §9).
func (s *Session) LastActivity() ntp.DateTime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// GamlrOffset computes the session-level clock offset: average the
// gamma-QQ offset estimate over 5-sample chunks of the forward OWDs
// and of the backward OWDs independently, then return their mean
// split (forward-backward)/2 (spec §4.D). It returns false if either
// direction has fewer than 5 samples.
func (s *Session) GamlrOffset() (float64, bool) {
	records := s.Results()
	var forward, backward []float64
	for _, r := range records {
		if v, ok := r.ForwardOWD(); ok {
			forward = append(forward, v)
		}
		if v, ok := r.BackwardOWD(); ok {
			backward = append(backward, v)
		}
	}
	fOff, fOK := stats.ChunkedEstimate(forward)
	bOff, bOK := stats.ChunkedEstimate(backward)
	if !fOK || !bOK {
		return 0, false
	}
	return (fOff - bOff) / 2, true
}
