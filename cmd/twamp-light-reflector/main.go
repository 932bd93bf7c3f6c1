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

	"github.com/twamp-go/twamp/config"
	"github.com/twamp-go/twamp/metrics"
	"github.com/twamp-go/twamp/reflector"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if *configFile == "" {
		log.Fatal("twamp-light-reflector: -config is required")
	}
	c, err := config.ReadConfig(*configFile)
	if err != nil {
		log.Fatalf("twamp-light-reflector: %v", err)
	}
	if c.Mode != config.ModeLightReflector {
		log.Fatalf("twamp-light-reflector: config mode must be %s, got %s", config.ModeLightReflector, c.Mode)
	}
	setLogLevel(c.LogLevel)

	local, err := net.ResolveUDPAddr("udp", c.SourceIPAddress)
	if err != nil {
		log.Fatalf("twamp-light-reflector: resolve source_ip_address: %v", err)
	}

	if c.MonitoringPort != 0 {
		exp := metrics.NewExporter(c.MonitoringPort)
		go exp.Start()
	}

	r, err := reflector.New(reflector.Config{
		Local:   local,
		DSCP:    c.DSCP,
		RefWait: c.RefWait,
	})
	if err != nil {
		log.Fatalf("twamp-light-reflector: %v", err)
	}
	defer r.Close()

	log.Infof("twamp-light-reflector: serving on %s", r.LocalAddr())
	if err := r.Run(); err != nil {
		log.Fatalf("twamp-light-reflector: %v", err)
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
