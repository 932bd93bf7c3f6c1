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
	"encoding/json"
	"flag"
	"net"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twamp-go/twamp/config"
	"github.com/twamp-go/twamp/metrics"
	"github.com/twamp-go/twamp/sender"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if *configFile == "" {
		log.Fatal("twamp-light-sender: -config is required")
	}
	c, err := config.ReadConfig(*configFile)
	if err != nil {
		log.Fatalf("twamp-light-sender: %v", err)
	}
	if c.Mode != config.ModeLightSender {
		log.Fatalf("twamp-light-sender: config mode must be %s, got %s", config.ModeLightSender, c.Mode)
	}
	setLogLevel(c.LogLevel)

	local, err := net.ResolveUDPAddr("udp", c.SourceIPAddress)
	if err != nil {
		log.Fatalf("twamp-light-sender: resolve source_ip_address: %v", err)
	}
	targets := make([]*net.UDPAddr, len(c.TestSessionHosts))
	for i, host := range c.TestSessionHosts {
		addr, err := net.ResolveUDPAddr("udp", host)
		if err != nil {
			log.Fatalf("twamp-light-sender: resolve test_session_hosts[%d]=%q: %v", i, host, err)
		}
		targets[i] = addr
	}

	var exp *metrics.Exporter
	if c.MonitoringPort != 0 {
		exp = metrics.NewExporter(c.MonitoringPort)
		go exp.Start()
	}

	s, err := sender.New(sender.Config{
		Local:              local,
		Targets:            targets,
		PacketInterval:     c.PacketInterval,
		Duration:           c.CollectionPeriod,
		Padding:            c.Padding,
		LastMessageTimeout: c.LastMessageTimeout,
		DSCP:               c.DSCP,
		Metrics:            exp,
	})
	if err != nil {
		log.Fatalf("twamp-light-sender: %v", err)
	}
	defer s.Close()

	run, err := s.Run()
	if err != nil {
		log.Fatalf("twamp-light-sender: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		log.Fatalf("twamp-light-sender: encode result: %v", err)
	}
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
