package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"padbridge/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "./config.json", "path to the config file (json or yaml)")
	flag.Parse()

	a, err := app.NewApp(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "padbridge:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "padbridge:", err)
		return 1
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigc:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError && a.Err() != nil {
		fmt.Fprintln(os.Stderr, "padbridge:", a.Err())
		return 1
	}
	return 0
}
