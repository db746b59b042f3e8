// Command wstunnel-lan runs the LAN agent: it executes http-request frames
// against real targets and opens TCP tunnels for connect-start frames.
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
	"github.com/sammck-go/wstunnel-relay/internal/lanagent"
	"github.com/sammck-go/wstunnel-relay/internal/outbound"
	"github.com/sammck-go/wstunnel-relay/internal/relay"
	"github.com/sammck-go/wstunnel-relay/internal/rlog"
	"github.com/sammck-go/wstunnel-relay/internal/transport"
)

var help = `
  Usage: wstunnel-lan <session-or-url> [server-url] [options]

  Options:

    --proxy, Server-reach proxy URL [HTTPS_PROXY / HTTP_PROXY]
    --tunnel-proxy, Proxy URL for connect-start targets, or "true" to
    reuse --proxy
    --transport, auto | ws | http [auto]
    --insecure, Disable TLS verification
    --debug, Enable debug logging

`

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
	flags := flag.NewFlagSet("wstunnel-lan", flag.ContinueOnError)
	proxyFlag := flags.String("proxy", "", "")
	tunnelProxyFlag := flags.String("tunnel-proxy", "", "")
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

	session, serverURL, err := cliconfig.ParseSessionAndServer(flags.Args(), "SESSION", "SERVER_URL")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
	}

	resolvedProxy := cliconfig.FirstFlagOrEnv(*proxyFlag, "PROXY", "")
	resolvedTunnelProxy := cliconfig.FirstFlagOrEnv(*tunnelProxyFlag, "TUNNEL_PROXY", "")
	resolvedTransport := cliconfig.FirstFlagOrEnv(*transportFlag, "TRANSPORT", "auto")
	resolvedInsecure := *insecure || cliconfig.EnvBool("INSECURE")
	resolvedDebug := *debug || cliconfig.EnvBool("DEBUG")

	level := rlog.LevelInfo
	if resolvedDebug {
		level = rlog.LevelDebug
	}
	logger := rlog.New("lan", level)

	targetIsHTTPS := false
	if u, err := url.Parse(serverURL); err == nil {
		targetIsHTTPS = u.Scheme == "https" || u.Scheme == "wss"
	}
	serverReachProxy, err := outbound.ResolveServerReachProxy(resolvedProxy, targetIsHTTPS)
	if err != nil {
		logger.ELogf("invalid --proxy: %s", err)
		os.Exit(1)
	}

	tunnelCfg := outbound.Config{Insecure: resolvedInsecure}
	hasTunnelProxy := false
	switch resolvedTunnelProxy {
	case "":
	case "true":
		tunnelCfg.ProxyURL = serverReachProxy
		hasTunnelProxy = serverReachProxy != nil
	default:
		u, perr := url.Parse(resolvedTunnelProxy)
		if perr != nil {
			logger.ELogf("invalid --tunnel-proxy: %s", perr)
			os.Exit(1)
		}
		tunnelCfg.ProxyURL = u
		hasTunnelProxy = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sigIntHandler(ctx, cancel)

	t, err := transport.Dial(ctx, transport.Options{
		ServerURL:       serverURL,
		Session:         session,
		Role:            "lan",
		Mode:            transport.Mode(resolvedTransport),
		ProtocolVersion: relay.ProtocolVersion,
		Proxy:           outbound.Config{ProxyURL: serverReachProxy, Insecure: resolvedInsecure},
		Logger:          logger,
	})
	if err != nil {
		logger.ELogf("failed to connect to relay: %s", err)
		os.Exit(1)
	}

	agent := lanagent.New(logger, t, lanagent.Config{TunnelProxy: tunnelCfg, HasTunnelProxy: hasTunnelProxy})
	logger.ILogf("lan agent connected, session %q", session)
	agent.Run(ctx)
}
