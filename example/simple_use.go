package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/bridge"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

func main() {
	log := logger.NewZapLogger()

	b, err := bridge.NewBridge(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.DebugLevel),
		contracts.WithSession(contracts.SessionConfig{Name: "esp32 bridge", Port: 5004}),
		contracts.WithRemote("192.168.1.100", 5004),
		contracts.WithVirtualPorts(contracts.VirtualPortConfig{
			InName:  "ESP32 in",
			OutName: "ESP32 out",
		}),
		contracts.WithStatusAddr("127.0.0.1:8080"),
	)
	if err != nil {
		log.Error("Failed to configure bridge", log.Field().Error("error", err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("Relaying MIDI... Press Ctrl+C to exit.")
	if err := b.Run(ctx); err != nil {
		log.Error("Bridge stopped with error", log.Field().Error("error", err))
	}
}
