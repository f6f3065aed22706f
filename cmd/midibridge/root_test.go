package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/bridge"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

func TestFlagDefaults(t *testing.T) {
	cmd := newRootCmd()
	fs := cmd.Flags()

	want := map[string]string{
		"name":          "midibridge",
		"service":       "midibridge",
		"port":          "5004",
		"remote-host":   "192.168.1.100",
		"remote-port":   "5004",
		"in-name":       "midibridge in",
		"out-name":      "midibridge out",
		"queue-size":    "256",
		"sync-interval": "10s",
		"log-level":     "info",
		"log-file":      "",
		"status-addr":   "",
	}
	for name, def := range want {
		fl := fs.Lookup(name)
		if fl == nil {
			t.Errorf("flag --%s missing", name)
			continue
		}
		if fl.DefValue != def {
			t.Errorf("--%s default = %q, want %q", name, fl.DefValue, def)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "midibridge dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestFlagsToOptions(t *testing.T) {
	f := &flags{}
	f.name, f.service, f.port = "studio", "svc", 6000
	f.remoteHost, f.remotePort = "10.0.0.9", 6002
	f.inName, f.outName = "a", "b"
	f.queueSize, f.syncInterval = 32, 2*time.Second
	f.logLevel = "debug"

	opts, err := f.options(logger.NewZapLogger())
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	b, err := bridge.NewBridge(opts...)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	got := b.Options()
	if got.LogLevel != contracts.DebugLevel {
		t.Errorf("LogLevel = %v", got.LogLevel)
	}
	if got.Session.Name != "studio" || got.Session.ServiceName != "svc" || got.Session.Port != 6000 || got.Session.SyncInterval != 2*time.Second {
		t.Errorf("Session = %+v", got.Session)
	}
	if got.Remote.Host != "10.0.0.9" || got.Remote.Port != 6002 {
		t.Errorf("Remote = %+v", got.Remote)
	}
	if got.VirtualPorts.InName != "a" || got.VirtualPorts.OutName != "b" || got.VirtualPorts.ClientName != "studio" {
		t.Errorf("VirtualPorts = %+v", got.VirtualPorts)
	}
	if got.QueueSize != 32 {
		t.Errorf("QueueSize = %d", got.QueueSize)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	f := &flags{logLevel: "verbose"}
	if _, err := f.options(logger.NewZapLogger()); err == nil {
		t.Error("options accepted an unknown log level")
	}
}
