// Command wbemlistener runs a standalone WBEM indication listener and
// prints received indications to stdout.
//
// Usage:
//
//	wbemlistener -port 5990
//	wbemlistener -tls-port 5991 -cert server.pem -key server.key
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	wbemlog "github.com/smnsjas/go-wbem/internal/log"
	"github.com/smnsjas/go-wbem/listener"
)

func main() {
	httpPort := flag.Int("port", 5990, "Plain-HTTP listening port (0 to disable)")
	tlsPort := flag.Int("tls-port", 0, "HTTPS listening port (0 to disable)")
	certFile := flag.String("cert", "", "PEM server certificate for the TLS port")
	keyFile := flag.String("key", "", "PEM server key for the TLS port")
	logLevel := flag.String("loglevel", "info", "Log level: debug, info, warn, error")
	logFile := flag.String("logfile", "", "Log file path (empty = stderr); rotated at 10MB, 3 backups kept")

	flag.Parse()

	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "Invalid log level '%s'. Valid values: debug, info, warn, error\n", *logLevel)
		os.Exit(1)
	}

	logOut := os.Stderr
	var logger *slog.Logger
	if *logFile != "" {
		rf, err := wbemlog.NewRotatingFile(*logFile, 10<<20, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer rf.Close()
		logger = slog.New(slog.NewTextHandler(rf, &slog.HandlerOptions{Level: level}))
	} else {
		logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	}

	l, err := listener.New(listener.Config{
		HTTPPort: *httpPort,
		TLSPort:  *tlsPort,
		CertFile: *certFile,
		KeyFile:  *keyFile,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating listener: %v\n", err)
		os.Exit(1)
	}

	l.AddCallback(func(ind listener.Indication) {
		fmt.Printf("[%s] %s from %s\n", ind.Arrival.Format("15:04:05.000"), ind.Instance.ClassName, ind.Source)
		for _, p := range ind.Instance.Properties {
			fmt.Printf("  %s = %v\n", p.Name, p.Value)
		}
	})

	if err := l.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting listener: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Listening for indications (http=%d tls=%d). Ctrl+C to exit.\n", *httpPort, *tlsPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
	if err := l.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping listener: %v\n", err)
		os.Exit(1)
	}
}
