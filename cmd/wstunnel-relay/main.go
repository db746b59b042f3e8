// Command wstunnel-relay runs the public relay: it accepts lan and proxy
// connections for named sessions and forwards frames between them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sammck-go/wstunnel-relay/internal/cliconfig"
	"github.com/sammck-go/wstunnel-relay/internal/httpserver"
	"github.com/sammck-go/wstunnel-relay/internal/relay"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
)

var help = `
  Usage: wstunnel-relay [options]

  Options:

    --host, Listening host / network interface [0.0.0.0]
    --port, Listening port [8080]
    --homepage, Optional URL to redirect non-API requests to
    --debug, Enable debug logging

`

func sigIntHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Printf("signal received; shutting down")
	case <-ctx.Done():
	}
	signal.Stop(sig)
	cancel()
}

func main() {
	flags := flag.NewFlagSet("wstunnel-relay", flag.ContinueOnError)
	host := flags.String("host", "", "")
	port := flags.String("port", "", "")
	homepage := flags.String("homepage", "", "")
	debug := flags.Bool("debug", false, "")
	flags.Usage = func() {
		fmt.Print(help)
		os.Exit(1)
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	resolvedHost := cliconfig.FirstFlagOrEnv(*host, "HOST", "0.0.0.0")
	resolvedPort := cliconfig.FirstFlagOrEnv(*port, "PORT", "8080")
	resolvedHomepage := cliconfig.FirstFlagOrEnv(*homepage, "HOMEPAGE", "")
	resolvedDebug := *debug || cliconfig.EnvBool("DEBUG")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sigIntHandler(ctx, cancel)

	r := relay.New(relay.Config{Homepage: resolvedHomepage, Debug: resolvedDebug})

	logger := rlog.New("main", rlog.LevelInfo)
	addr := resolvedHost + ":" + resolvedPort

	stop := make(chan struct{})
	go r.RunHeartbeat(stop)
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	srv := httpserver.New(logger.Fork("http"))
	logger.ILogf("listening on %s", addr)
	if err := srv.ListenAndServe(ctx, addr, r); err != nil {
		logger.ELogf("relay exited: %s", err)
		os.Exit(1)
	}
}
