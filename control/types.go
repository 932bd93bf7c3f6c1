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

// Package control implements the TCP-based TWAMP control state
// machine (spec §4.J): a sender-side client driving
// AWAIT_GREETING..TEST_IN_PROGRESS and a reflector-side server
// answering it. The request/response loop shape is grounded on
// protocol/control/client.go's NTPClient.Communicate; the state names
// and transition/error semantics follow
// original_source/twamp/src/twamp_control/*.rs.
package control

import (
	"net"
	"time"

	"github.com/twamp-go/twamp/wire"
)

// State is a node in the sender- or reflector-side control state
// machine.
type State int

// Sender-side states (spec §4.J).
const (
	StateAwaitGreeting State = iota
	StateSendSetup
	StateAwaitServerStart
	StateSendRequest
	StateAwaitAccept
	StateEstablished
	StateAwaitStartAck
	StateTestInProgress
	StateFinal
	StateError
)

// Reflector-side states (spec §4.J, reflector side).
const (
	StateSendGreeting State = iota + 100
	StateAwaitSetup
	StateSendServerStart
	StateAwaitRequest
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitGreeting:
		return "AWAIT_GREETING"
	case StateSendSetup:
		return "SEND_SETUP"
	case StateAwaitServerStart:
		return "AWAIT_SERVER_START"
	case StateSendRequest:
		return "SEND_REQUEST"
	case StateAwaitAccept:
		return "AWAIT_ACCEPT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateAwaitStartAck:
		return "AWAIT_START_ACK"
	case StateTestInProgress:
		return "TEST_IN_PROGRESS"
	case StateFinal:
		return "FINAL"
	case StateError:
		return "ERROR"
	case StateSendGreeting:
		return "SEND_GREETING"
	case StateAwaitSetup:
		return "AWAIT_SETUP"
	case StateSendServerStart:
		return "SEND_SERVER_START"
	case StateAwaitRequest:
		return "AWAIT_REQUEST"
	case StateServing:
		return "SERVING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection is the control-connection record (spec §3, supplemented
// by data_model.rs's CtrlConnection): only Mode and State are
// meaningful in unauthenticated mode, but the optional authentication
// artifacts are carried as a natural extension point for a future
// authenticated mode that is explicitly out of scope here.
type Connection struct {
	Name                 string
	ClientSocketAddr     net.Addr
	ServerSocketAddr     net.Addr
	State                State
	ControlPacketDSCP    int
	SelectedMode         wire.Mode
	KeyID                []byte
	Count                uint32
	MaxCountExponent     uint8
	Salt                 []byte
	ServerIV             []byte
	Challenge            []byte
}

// SupportedModes is the mode bitmask this implementation ever
// negotiates: unauthenticated only (spec §1 Non-goals).
var SupportedModes = wire.Modes{Bits: uint32(wire.ModeUnauthenticated)}

// defaultIOTimeout bounds how long a single control read/write waits
// before giving up; control failures close that connection without
// affecting other peers (spec §7).
const defaultIOTimeout = 10 * time.Second
