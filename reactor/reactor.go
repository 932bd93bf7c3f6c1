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

// Package reactor implements the multi-backend event loop (spec §4.F):
// a reactor over registered file-descriptor sources and kernel timers,
// with a notion of "overtime" for graceful drain past a deadline. The
// backend is epoll on Linux and kqueue on BSD/Darwin, selected at
// compile time the same way package socket splits its timestamping
// code (timestamp_linux.go / timestamp_darwin.go); io_uring is not
// wired (see DESIGN.md).
package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// pollTimeout is the granularity of each blocking wait, matching the
// teacher source's epoll_loop.rs 10ms poll interval exactly.
const pollTimeout = 10 * time.Millisecond

// Token identifies a registered source or timer. Tokens are opaque,
// generated from a process-wide atomic counter, and never reused
// within a Loop's lifetime.
type Token uint64

var tokenCounter uint64

func nextToken() Token {
	return Token(atomic.AddUint64(&tokenCounter, 1))
}

// FdSource is anything that can be registered with a Loop: it exposes
// the raw file descriptor the backend polls for readability.
type FdSource interface {
	Fd() int
}

// Callback is invoked on dispatch with a mutable reference to the
// source bound to the firing token. Registrations come from external
// code with heterogeneous captured state (spec §9 "dynamic dispatch
// in callbacks"); in Go that's simply a closure, so Callback carries
// no extra value parameter the way the source language's generic
// register_timer(..., value, ...) does — callers close over whatever
// context they need instead.
type Callback func(src FdSource, tok Token)

type registration struct {
	token    Token
	source   FdSource
	callback Callback
}

type timerBinding struct {
	token    Token
	anchor   Token
	callback Callback
}

// platform is the backend-specific half of the reactor: epoll on
// Linux, kqueue on BSD/Darwin. Both sources and timers are identified
// by a plain OS-level integer (a real fd for sources, a timerfd or
// kqueue ident for timers); Loop keeps the Token<->id correlation.
type platform interface {
	registerFd(fd int) error
	unregisterFd(fd int) error
	addPeriodicTimer(interval time.Duration) (id int, err error)
	addOneShotTimer(d time.Duration) (id int, err error)
	removeTimer(id int) error
	wait(timeout time.Duration) (readyFds []int, readyTimerIDs []int, err error)
	close() error
}

// RegisterMsg is a cross-thread request processed at the top of the
// next iteration (spec §5: "a multi-producer channel delivers
// Register(source, callback) / RegisterTimer(...) / TimedCleanup
// messages; the consumer is the event loop thread itself").
type RegisterMsg interface {
	apply(l *Loop)
}

type registerSourceMsg struct {
	source   FdSource
	callback Callback
	result   chan<- Token
}

func (m registerSourceMsg) apply(l *Loop) {
	tok, err := l.register(m.source, m.callback)
	if err != nil {
		log.Errorf("reactor: cross-thread register failed: %v", err)
	}
	if m.result != nil {
		m.result <- tok
	}
}

type registerTimerMsg struct {
	interval time.Duration
	anchor   Token
	callback Callback
	result   chan<- Token
}

func (m registerTimerMsg) apply(l *Loop) {
	tok, err := l.registerTimer(m.interval, m.anchor, m.callback)
	if err != nil {
		log.Errorf("reactor: cross-thread register-timer failed: %v", err)
	}
	if m.result != nil {
		m.result <- tok
	}
}

type unregisterMsg struct{ token Token }

func (m unregisterMsg) apply(l *Loop) { _ = l.Unregister(m.token) }

type unregisterTimerMsg struct{ token Token }

func (m unregisterTimerMsg) apply(l *Loop) { _ = l.UnregisterTimer(m.token) }

// timedCleanupMsg asks the loop to unregister every periodic timer
// once delay has elapsed, cancelling periodic work after a fixed
// delay without tearing down registered sources (spec §5).
type timedCleanupMsg struct{ delay time.Duration }

func (m timedCleanupMsg) apply(l *Loop) {
	id, err := l.backend.addOneShotTimer(m.delay)
	if err != nil {
		log.Errorf("reactor: timed-cleanup timer failed: %v", err)
		return
	}
	l.cleanupTimerIDs[id] = struct{}{}
}

// Loop is a single-threaded reactor: exactly one goroutine calls Run,
// and every mutation of registered sources and timers goes through
// either that goroutine directly or a message on the registration
// channel it drains each iteration.
type Loop struct {
	backend platform

	mu sync.Mutex // guards the maps below; only Run's goroutine reads them during dispatch

	fdToToken      map[int]Token
	sources        map[Token]*registration
	timerIDToToken map[int]Token
	timers         map[Token]*timerBinding
	cleanupTimerIDs map[int]struct{}
	ghostTimerIDs   map[int]struct{} // one-shot timers from AddDuration, closed once they fire

	regCh chan RegisterMsg

	overtime   time.Duration
	inOvertime bool
}

// NewLoop constructs a Loop using the platform's native backend.
func NewLoop() (*Loop, error) {
	b, err := newPlatformBackend()
	if err != nil {
		return nil, errors.Wrap(err, "reactor: create backend")
	}
	return &Loop{
		backend:         b,
		fdToToken:       map[int]Token{},
		sources:         map[Token]*registration{},
		timerIDToToken:  map[int]Token{},
		timers:          map[Token]*timerBinding{},
		cleanupTimerIDs: map[int]struct{}{},
		ghostTimerIDs:   map[int]struct{}{},
		regCh:           make(chan RegisterMsg, 64),
	}, nil
}

// CommunicationChannel returns a thread-safe handle other goroutines
// use to register sources/timers with this loop without racing its
// single owning goroutine (spec §5).
func (l *Loop) CommunicationChannel() chan<- RegisterMsg {
	return l.regCh
}

// SetOvertime arms the grace window entered on the first ghost-token
// wake (spec §4.F).
func (l *Loop) SetOvertime(d time.Duration) {
	l.overtime = d
}

// Register binds a source to a callback and returns its token.
func (l *Loop) Register(source FdSource, cb Callback) (Token, error) {
	return l.register(source, cb)
}

func (l *Loop) register(source FdSource, cb Callback) (Token, error) {
	fd := source.Fd()
	if err := l.backend.registerFd(fd); err != nil {
		return 0, errors.Wrap(err, "reactor: register fd")
	}
	tok := nextToken()
	l.mu.Lock()
	l.fdToToken[fd] = tok
	l.sources[tok] = &registration{token: tok, source: source, callback: cb}
	l.mu.Unlock()
	return tok, nil
}

// RegisterTimer arms a periodic timer at interval; on each fire the
// callback is invoked with the source registered under anchor.
func (l *Loop) RegisterTimer(interval time.Duration, anchor Token, cb Callback) (Token, error) {
	return l.registerTimer(interval, anchor, cb)
}

func (l *Loop) registerTimer(interval time.Duration, anchor Token, cb Callback) (Token, error) {
	id, err := l.backend.addPeriodicTimer(interval)
	if err != nil {
		return 0, errors.Wrap(err, "reactor: add periodic timer")
	}
	tok := nextToken()
	l.mu.Lock()
	l.timerIDToToken[id] = tok
	l.timers[tok] = &timerBinding{token: tok, anchor: anchor, callback: cb}
	l.mu.Unlock()
	return tok, nil
}

// AddDuration arms a one-shot deadline with no backing source. When it
// fires it necessarily matches no known source or timer, so it drives
// the loop into overtime (or terminates it) through the ghost-token
// path (spec §4.F, §4.H). Its backend id is tracked in ghostTimerIDs
// (not timerIDToToken/timers, so the firing stays unrecognized) purely
// so Run can close the underlying timerfd/kqueue ident once it fires,
// instead of leaking it.
func (l *Loop) AddDuration(d time.Duration) (Token, error) {
	id, err := l.backend.addOneShotTimer(d)
	if err != nil {
		return 0, errors.Wrap(err, "reactor: add duration")
	}
	l.mu.Lock()
	l.ghostTimerIDs[id] = struct{}{}
	l.mu.Unlock()
	return nextToken(), nil
}

// Unregister removes a source. Idempotent for a token that isn't
// currently registered.
func (l *Loop) Unregister(tok Token) error {
	l.mu.Lock()
	reg, ok := l.sources[tok]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(l.sources, tok)
	delete(l.fdToToken, reg.source.Fd())
	l.mu.Unlock()
	return l.backend.unregisterFd(reg.source.Fd())
}

// UnregisterTimer removes a periodic timer. Idempotent for a token
// that isn't currently a registered timer.
func (l *Loop) UnregisterTimer(tok Token) error {
	l.mu.Lock()
	var id int
	found := false
	for backendID, t := range l.timerIDToToken {
		if t == tok {
			id = backendID
			found = true
			break
		}
	}
	if !found {
		l.mu.Unlock()
		return nil
	}
	delete(l.timerIDToToken, id)
	delete(l.timers, tok)
	l.mu.Unlock()
	return l.backend.removeTimer(id)
}

// unregisterAllTimers tears down every periodic timer, used both by
// timed-cleanup messages and by the overtime transition.
func (l *Loop) unregisterAllTimers() {
	l.mu.Lock()
	ids := make([]int, 0, len(l.timerIDToToken))
	for id := range l.timerIDToToken {
		ids = append(ids, id)
	}
	l.timerIDToToken = map[int]Token{}
	l.timers = map[Token]*timerBinding{}
	l.mu.Unlock()
	for _, id := range ids {
		if err := l.backend.removeTimer(id); err != nil {
			log.Warningf("reactor: removing timer on overtime entry: %v", err)
		}
	}
}

// closeGhostTimer releases the backend timer created by AddDuration
// once it has fired, if id is one of them — a one-shot ghost timer
// never re-arms, so nothing else will ever remove it otherwise (spec
// §4.F's AddDuration has no unregister counterpart).
func (l *Loop) closeGhostTimer(id int) {
	l.mu.Lock()
	_, ok := l.ghostTimerIDs[id]
	if ok {
		delete(l.ghostTimerIDs, id)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	if err := l.backend.removeTimer(id); err != nil {
		log.Warningf("reactor: closing ghost timer: %v", err)
	}
}

// Close releases the backend.
func (l *Loop) Close() error {
	return l.backend.close()
}

// Run drives the reactor until a ghost token wakes it with no
// overtime armed, or a second ghost token wakes it during overtime.
// It never returns an error for that termination path; only backend
// failures are surfaced.
func (l *Loop) Run() error {
	for {
		l.drainRegistrations()

		readyFds, readyTimerIDs, err := l.backend.wait(pollTimeout)
		if err != nil {
			return errors.Wrap(err, "reactor: wait")
		}

		for _, fd := range readyFds {
			l.mu.Lock()
			tok, ok := l.fdToToken[fd]
			var reg *registration
			if ok {
				reg = l.sources[tok]
			}
			l.mu.Unlock()
			if reg == nil {
				if done := l.handleGhost(); done {
					return nil
				}
				continue
			}
			reg.callback(reg.source, reg.token)
		}

		for _, id := range readyTimerIDs {
			if _, cleanup := l.cleanupTimerIDs[id]; cleanup {
				delete(l.cleanupTimerIDs, id)
				l.unregisterAllTimers()
				continue
			}
			l.mu.Lock()
			tok, ok := l.timerIDToToken[id]
			var tb *timerBinding
			var anchorReg *registration
			if ok {
				tb = l.timers[tok]
				if tb != nil {
					anchorReg = l.sources[tb.anchor]
				}
			}
			l.mu.Unlock()
			if tb == nil || anchorReg == nil {
				l.closeGhostTimer(id)
				if done := l.handleGhost(); done {
					return nil
				}
				continue
			}
			tb.callback(anchorReg.source, tb.anchor)
		}
	}
}

// handleGhost implements the overtime state machine: the first ghost
// wake tears down every timer and arms a fresh one-shot deadline for
// the overtime duration (if armed); any later ghost wake — including
// that fresh deadline's own firing — terminates the loop.
func (l *Loop) handleGhost() (terminate bool) {
	if l.inOvertime {
		return true
	}
	if l.overtime <= 0 {
		return true
	}
	l.inOvertime = true
	l.unregisterAllTimers()
	if _, err := l.AddDuration(l.overtime); err != nil {
		log.Errorf("reactor: arming overtime deadline: %v", err)
		return true
	}
	return false
}

func (l *Loop) drainRegistrations() {
	for {
		select {
		case msg := <-l.regCh:
			msg.apply(l)
		default:
			return
		}
	}
}
