package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"snore-detection/config"
	"snore-detection/utils"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
)

const usage = "Expected 'listen' or 'history' subcommand"

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger := utils.GetLogger()
		err := xerrors.New(err)
		logger.ErrorContext(context.Background(), "Invalid configuration.", slog.Any("error", err))
		os.Exit(1)
	}

	switch os.Args[1] {
	case "listen":
		listenCmd := flag.NewFlagSet("listen", flag.ExitOnError)
		devices := listenCmd.Bool("devices", false, "List input devices and exit")
		device := listenCmd.String("device", cfg.InputDevice, "Input device name (substring match)")
		alerts := listenCmd.String("alerts", cfg.AlertsAddr, "Address for the live alert feed, empty to disable")
		listenCmd.Parse(os.Args[2:])

		if *devices {
			listDevices()
			return
		}
		cfg.InputDevice = *device
		cfg.AlertsAddr = *alerts
		listen(cfg)
	case "history":
		historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
		limit := historyCmd.Int("limit", 20, "Number of recent windows to show")
		nights := historyCmd.Int("nights", 7, "Number of nights to summarise")
		historyCmd.Parse(os.Args[2:])
		history(cfg, *limit, *nights)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}
