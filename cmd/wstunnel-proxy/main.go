// Command wstunnel-proxy runs the local proxy: it terminates HTTP/1.1 from
// a browser and forwards requests and CONNECT tunnels through the relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/sammck-go/wstunnel-relay/internal/cliconfig"
	"github.com/sammck-go/wstunnel-relay/internal/httpserver"
	"github.com/sammck-go/wstunnel-relay/internal/localproxy"
	"github.com/sammck-go/wstunnel-relay/internal/outbound"
	"github.com/sammck-go/wstunnel-relay/internal/relay"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
	"github.com/sammck-go/wstunnel-relay/internal/transport"
)

var help = `
  Usage: wstunnel-proxy <session-or-url> [server-url] [port] [options]

  Options:

    --host, Listening host [127.0.0.1]
    --proxy, Server-reach proxy URL [HTTPS_PROXY / HTTP_PROXY]
    --transport, auto | ws | http [auto]
    --insecure, Disable TLS verification
    --debug, Enable debug logging

`

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func sigIntHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	signal.Stop(sig)
	cancel()
}

func main() {
	flags := flag.NewFlagSet("wstunnel-proxy", flag.ContinueOnError)
	hostFlag := flags.String("host", "", "")
	proxyFlag := flags.String("proxy", "", "")
	transportFlag := flags.String("transport", "", "")
	insecure := flags.Bool("insecure", false, "")
	debug := flags.Bool("debug", false, "")
	flags.Usage = func() {
		fmt.Print(help)
		os.Exit(1)
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	args := flags.Args()
	listenPort := ""
	serverArgs := args
	switch {
	case len(args) == 3:
		listenPort = args[2]
		serverArgs = args[:2]
	case len(args) == 2 && isNumeric(args[1]):
		listenPort = args[1]
		serverArgs = args[:1]
	}

	session, serverURL, err := cliconfig.ParseSessionAndServer(serverArgs, "SESSION", "SERVER_URL")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
	}

	resolvedHost := cliconfig.FirstFlagOrEnv(*hostFlag, "PROXY_HOST", "127.0.0.1")
	resolvedPort := cliconfig.FirstFlagOrEnv(listenPort, "PROXY_PORT", "8080")
	resolvedProxy := cliconfig.FirstFlagOrEnv(*proxyFlag, "PROXY", "")
	resolvedTransport := cliconfig.FirstFlagOrEnv(*transportFlag, "TRANSPORT", "auto")
	resolvedInsecure := *insecure || cliconfig.EnvBool("INSECURE")
	resolvedDebug := *debug || cliconfig.EnvBool("DEBUG")

	level := rlog.LevelInfo
	if resolvedDebug {
		level = rlog.LevelDebug
	}
	logger := rlog.New("proxy", level)

	targetIsHTTPS := false
	if u, err := url.Parse(serverURL); err == nil {
		targetIsHTTPS = u.Scheme == "https" || u.Scheme == "wss"
	}
	serverReachProxy, err := outbound.ResolveServerReachProxy(resolvedProxy, targetIsHTTPS)
	if err != nil {
		logger.ELogf("invalid --proxy: %s", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sigIntHandler(ctx, cancel)

	t, err := transport.Dial(ctx, transport.Options{
		ServerURL:       serverURL,
		Session:         session,
		Role:            "proxy",
		Mode:            transport.Mode(resolvedTransport),
		ProtocolVersion: relay.ProtocolVersion,
		Proxy:           outbound.Config{ProxyURL: serverReachProxy, Insecure: resolvedInsecure},
		Logger:          logger,
	})
	if err != nil {
		logger.ELogf("failed to connect to relay: %s", err)
		os.Exit(1)
	}

	p := localproxy.New(logger, t)
	go p.Run()

	addr := resolvedHost + ":" + resolvedPort
	srv := httpserver.New(logger.Fork("http"))
	logger.ILogf("listening on %s, session %q", addr, session)
	if err := srv.ListenAndServe(ctx, addr, p.Handler()); err != nil {
		logger.ELogf("local proxy exited: %s", err)
		os.Exit(1)
	}
}
