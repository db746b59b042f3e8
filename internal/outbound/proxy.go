// Package outbound implements the CONNECT-based proxy dialing shared by
// every outbound TLS/TCP connection this system makes: the local proxy and
// lan agent reaching the relay through a configured "server-reach" proxy,
// and the lan agent reaching CONNECT targets through a configured
// "tunnel-proxy".
package outbound

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Config describes one outbound proxy leg. ProxyURL is nil for "dial
// directly". Insecure disables TLS verification for all outbound TLS made
// by this config, including through the proxy.
type Config struct {
	ProxyURL *url.URL
	Insecure bool
}

// Dial connects to targetHostPort, routing through c.ProxyURL with an
// HTTP CONNECT if one is configured, or dialing directly otherwise.
func (c Config) Dial(ctx context.Context, targetHostPort string) (net.Conn, error) {
	if c.ProxyURL == nil {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", targetHostPort)
	}
	return c.dialThroughProxy(ctx, targetHostPort)
}

func (c Config) dialThroughProxy(ctx context.Context, targetHostPort string) (net.Conn, error) {
	proxyHostPort := c.ProxyURL.Host
	if !strings.Contains(proxyHostPort, ":") {
		if c.ProxyURL.Scheme == "https" {
			proxyHostPort += ":443"
		} else {
			proxyHostPort += ":80"
		}
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", proxyHostPort)
	if err != nil {
		return nil, fmt.Errorf("outbound: dial proxy %s: %w", proxyHostPort, err)
	}

	if c.ProxyURL.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         c.ProxyURL.Hostname(),
			InsecureSkipVerify: c.Insecure,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("outbound: TLS handshake with proxy: %w", err)
		}
		conn = tlsConn
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetHostPort},
		Host:   targetHostPort,
		Header: make(http.Header),
	}
	if u := c.ProxyURL.User; u != nil {
		req.Header.Set("Proxy-Authorization", basicAuth(u))
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("outbound: write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("outbound: read CONNECT response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("outbound: proxy CONNECT to %s failed: %s", targetHostPort, resp.Status)
	}
	return conn, nil
}

func basicAuth(u *url.Userinfo) string {
	pass, _ := u.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(u.Username()+":"+pass))
}

// TLSClientConfig builds a tls.Config honoring Insecure for dialing the
// relay itself over TLS (wss://).
func (c Config) TLSClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.Insecure,
	}
}
