package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens connections to kdb+ processes.
type Dialer struct {
	// Timeout bounds the TCP connect and TLS handshake together. Zero means no limit
	// beyond the context.
	Timeout   time.Duration
	KeepAlive time.Duration
	// TLS wraps the connection when non-nil.
	TLS *tls.Config
	// Proxy is a socks5:// or socks5h:// URL, optionally with credentials.
	Proxy string
}

// ParseProxy validates a proxy URL. Only SOCKS5 proxies are supported.
func ParseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch u.Scheme {
	case "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy host required")
	}
	return u, nil
}

// DialContext connects to addr ("host:port").
func (d *Dialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	conn, err := d.dialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}
	if d.TLS == nil {
		return conn, nil
	}

	cfg := d.TLS.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return tlsConn, nil
}

func (d *Dialer) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	direct := &net.Dialer{KeepAlive: d.KeepAlive}
	if d.Proxy == "" {
		return direct.DialContext(ctx, "tcp", addr)
	}

	u, err := ParseProxy(d.Proxy)
	if err != nil {
		return nil, err
	}
	pd, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", u.Host, err)
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return pd.Dial("tcp", addr)
}
