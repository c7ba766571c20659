// Command groundstation runs the antenna ground station control core:
// it loads configuration, opens the RS485 servo bus and the optional IMU
// and GNSS serial links, and serves the operator surface described in
// spec §6 until interrupted. Flag and signal-handling shape is adapted
// from the teacher's cmd/top708reader (flag.Parse in init, SIGINT/SIGTERM
// via os/signal.Notify, deferred graceful teardown), generalized from a
// single GNSS reader CLI to the full multi-axis core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/obslog"
	"github.com/aetherlink/groundstation/internal/operator"
	"github.com/aetherlink/groundstation/internal/serialport"
)

var (
	configPath string
	imuPort    string
	imuBaud    int
	gnssPort   string
	gnssBaud   int
	showPorts  bool
	shutdownGrace time.Duration
)

func init() {
	flag.StringVar(&configPath, "config", "groundstation.yaml", "Path to the ground station YAML configuration")
	flag.StringVar(&imuPort, "imu-port", "", "Serial port for the IMU (optional)")
	flag.IntVar(&imuBaud, "imu-baud", 0, "Ignored: IMU baud is auto-detected")
	flag.StringVar(&gnssPort, "gnss-port", "", "Serial port for the GNSS receiver (optional)")
	flag.IntVar(&gnssBaud, "gnss-baud", 38400, "Baud rate for the GNSS receiver")
	flag.BoolVar(&showPorts, "list-ports", false, "List available serial ports and exit")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 2*time.Second, "Grace period for shutdown before forcing the bus closed")
	flag.Parse()
}

func main() {
	logger := obslog.NewDefault()

	if showPorts {
		listPorts(logger)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", configPath, err)
	}

	busPort := serialport.NewBugStPort()

	var imuEP *operator.Endpoint
	if imuPort != "" {
		imuEP = &operator.Endpoint{Port: serialport.NewBugStPort(), Name: imuPort}
	}
	var gnssEP *operator.Endpoint
	if gnssPort != "" {
		gnssEP = &operator.Endpoint{Port: serialport.NewBugStPort(), Name: gnssPort, BaudRate: gnssBaud}
	}

	sup := operator.New(cfg, busPort, imuEP, gnssEP, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		log.Fatalf("start supervisor: %v", err)
	}

	logger.Infof("ground station core running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("shutting down...")
	if err := sup.Stop(shutdownGrace); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func listPorts(logger obslog.Logger) {
	p := serialport.NewBugStPort()
	names, err := p.ListPorts()
	if err != nil {
		log.Fatalf("list ports: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No serial ports found.")
		return
	}
	fmt.Println("Available serial ports:")
	for i, n := range names {
		fmt.Printf("%d. %s\n", i+1, n)
	}
}
