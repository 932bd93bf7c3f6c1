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

package main

import (
	"flag"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/twamp-go/twamp/config"
	"github.com/twamp-go/twamp/control"
	"github.com/twamp-go/twamp/metrics"
	"github.com/twamp-go/twamp/reflector"
	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/wire"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if *configFile == "" {
		log.Fatal("twamp-full-reflector: -config is required")
	}
	c, err := config.ReadConfig(*configFile)
	if err != nil {
		log.Fatalf("twamp-full-reflector: %v", err)
	}
	if c.Mode != config.ModeFullReflector {
		log.Fatalf("twamp-full-reflector: config mode must be %s, got %s", config.ModeFullReflector, c.Mode)
	}
	setLogLevel(c.LogLevel)

	controlAddr, err := net.ResolveTCPAddr("tcp", c.SourceIPAddress)
	if err != nil {
		log.Fatalf("twamp-full-reflector: resolve source_ip_address: %v", err)
	}

	if c.MonitoringPort != 0 {
		exp := metrics.NewExporter(c.MonitoringPort)
		go exp.Start()
	}

	ln, err := socket.ListenTCP(controlAddr)
	if err != nil {
		log.Fatalf("twamp-full-reflector: listen: %v", err)
	}
	defer ln.Close()

	log.Infof("twamp-full-reflector: control plane listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("twamp-full-reflector: accept: %v", err)
			continue
		}
		go serveControlConnection(conn, c, controlAddr.IP)
	}
}

// serveControlConnection drives one control connection to completion,
// binding one UDP session per RequestTwSession it receives. Each
// session's reactor loop runs under a shared errgroup.Group so that,
// once the peer sends StopSessions or drops the connection, closing
// every session's socket (which unblocks its loop with a backend
// error) and then Wait()-ing the group gives a single join point
// instead of a fleet of dangling goroutines (grounded on
// ptp/sptp/client/client.go's eg.Go/eg.Wait lifecycle).
func serveControlConnection(conn *socket.TCPConn, c *config.Config, bindIP net.IP) {
	var eg errgroup.Group
	var sessions []*reflector.Reflector

	handler := func(req *wire.RequestTwSession) (uint16, error) {
		r, err := reflector.New(reflector.Config{
			Local:   &net.UDPAddr{IP: bindIP, Port: 0},
			DSCP:    c.DSCP,
			RefWait: c.RefWait,
		})
		if err != nil {
			return 0, err
		}
		sessions = append(sessions, r)
		eg.Go(r.Run)
		return uint16(r.LocalAddr().Port), nil
	}

	if err := control.ServeReflector(conn, handler); err != nil {
		log.Errorf("twamp-full-reflector: control connection ended: %v", err)
	}

	for _, r := range sessions {
		r.Close()
	}
	if err := eg.Wait(); err != nil {
		log.Errorf("twamp-full-reflector: test session loop error: %v", err)
	}
	conn.Close()
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning", "":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", level)
	}
}
