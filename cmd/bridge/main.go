// Command bridge runs the ASL Zello bridge: a half-duplex voice relay
// between a USRP UDP endpoint and a Zello Channels WebSocket channel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattmelling/asl-zello-bridge/bridge"
	"github.com/mattmelling/asl-zello-bridge/shared"
	flag "github.com/spf13/pflag"
)

const printerIndentString = "│  "

const (
	logFileAddress    = "bridge.log"
	logFileMaxSize    = 10 // MB
	logFileMaxBackups = 5
	logFileMaxAge     = 14 // days
	logFileCompress   = true
)

func main() {
	help := flag.BoolP("help", "h", false, "show usage and exit")
	flag.Parse()
	if *help {
		fmt.Println("bridge: relay audio between a USRP UDP endpoint and a Zello Channels WebSocket channel.")
		fmt.Println("Configuration is read entirely from the environment, e.g.:")
		fmt.Println("  ZELLO_WS_ENDPOINT, ZELLO_USERNAME, ZELLO_PASSWORD, ZELLO_CHANNEL")
		fmt.Println("  ZELLO_PRIVATE_KEY or ZELLOWORK_API (pick one authentication scheme)")
		fmt.Println("  USRP_BIND, USRP_RXPORT, USRP_HOST, USRP_TXPORT")
		fmt.Println("Optional: ZELLO_ISSUER, USRP_GAIN_RX_DB, USRP_GAIN_TX_DB, LOG_LEVEL, LOG_FORMAT, OPUS_COMPLEXITY, OPUS_BITRATE")
		fmt.Println("(USRP_TXPORT defaults to 7070, gains to 0 dB, LOG_LEVEL to info).")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, err := bridge.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	stdoutHook := shared.NewWriteCloser(os.Stdout)
	printer, err := shared.NewPrinter(printerIndentString, stdoutHook)
	if err != nil {
		logger.Error("creating printer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sv := bridge.NewSupervisor(logger, printer)
	if err := sv.Run(ctx, cfg.USRPConfig(), cfg.ZelloConfig(), cfg.TokenService(), cfg.CodecOptions()); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg bridge.Config) shared.LoggerAdapter {
	if cfg.LogFormat == "file" {
		return shared.NewFileLogger(
			logFileAddress, cfg.LogLevel,
			logFileMaxSize, logFileMaxBackups, logFileMaxAge, logFileCompress,
		)
	}
	return shared.NewStdLogger(cfg.LogLevel)
}
