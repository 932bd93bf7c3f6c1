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

// Package socket implements kernel-timestamped UDP and TCP sockets
// (spec §4.E): non-blocking, close-on-exec sockets with software
// tx/rx timestamping enabled via SO_TIMESTAMPING and tx-timestamp
// recovery from the kernel error queue (MSG_ERRQUEUE).
package socket

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// ErrUnknownAddressFamily is returned when a sockaddr is neither
// AF_INET nor AF_INET6 (spec §7).
var ErrUnknownAddressFamily = errors.New("socket: unknown address family")

// IPToSockaddr converts an IP + port into a kernel socket address.
func IPToSockaddr(ip net.IP, port int) unix.Sockaddr {
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa
}

// SockaddrToUDPAddr converts a kernel socket address into a *net.UDPAddr.
func SockaddrToUDPAddr(sa unix.Sockaddr) (*net.UDPAddr, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}, nil
	default:
		return nil, ErrUnknownAddressFamily
	}
}

// ConnFd returns the raw file descriptor backing a *net.UDPConn.
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = sc.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// TCPConnFd returns the raw file descriptor backing a *net.TCPConn.
func TCPConnFd(conn *net.TCPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = sc.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// TCPListenerFd returns the raw file descriptor backing a *net.TCPListener.
func TCPListenerFd(l *net.TCPListener) (int, error) {
	sc, err := l.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = sc.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}
