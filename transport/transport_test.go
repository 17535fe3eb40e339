package transport

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/nettest"
)

// writeSelfSigned writes a self-signed loopback certificate and key into dir.
func writeSelfSigned(t *testing.T, dir string, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "kdb-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certPath = filepath.Join(dir, "client.cert.pem")
	keyPath = filepath.Join(dir, "client.key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}

func TestBuildTLSConfigDisabled(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSConfig{CertPath: "ignored"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config when TLS is disabled")
	}
}

func TestBuildTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := writeSelfSigned(t, dir, time.Now().Add(24*time.Hour))

	cases := []struct {
		name string
		cfg  TLSConfig
		want string
	}{
		{"cert without key", TLSConfig{Enabled: true, CertPath: certPath}, "must be set together"},
		{"missing key file", TLSConfig{Enabled: true, CertPath: certPath, KeyPath: filepath.Join(dir, "nope.pem")}, "client certificate"},
		{"missing ca", TLSConfig{Enabled: true, CAPath: filepath.Join(dir, "nope.pem")}, "read CA certificate"},
		{"bad ca", TLSConfig{Enabled: true, CAPath: writeFile(t, dir, "bad.pem", "not pem")}, "parse CA certificate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildTLSConfig(tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestBuildTLSConfigLoadsCertificates(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir(), time.Now().Add(24*time.Hour))

	cfg, err := BuildTLSConfig(TLSConfig{Enabled: true, CertPath: certPath, KeyPath: keyPath, CAPath: certPath, ServerName: "kdb"})
	if err != nil {
		t.Fatalf("build tls config: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 client certificate, got %d", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Fatal("expected CA pool")
	}
	if cfg.ServerName != "kdb" || cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestExpiringCertificates(t *testing.T) {
	now := time.Now()
	certPath, keyPath := writeSelfSigned(t, t.TempDir(), now.Add(10*24*time.Hour))
	cfg, err := BuildTLSConfig(TLSConfig{Enabled: true, CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("build tls config: %v", err)
	}

	expiring, err := ExpiringCertificates(cfg, 30*24*time.Hour, now)
	if err != nil {
		t.Fatalf("expiring certificates: %v", err)
	}
	if len(expiring) != 1 {
		t.Fatalf("expected 1 expiring certificate, got %d", len(expiring))
	}
	info := expiring[0]
	if info.IsExpired || info.DaysUntilExpiry < 9 || info.DaysUntilExpiry > 10 {
		t.Fatalf("unexpected certificate info %+v", info)
	}
	if !strings.Contains(info.Subject, "kdb-test") || len(info.SANs) != 3 {
		t.Fatalf("unexpected subject or SANs %+v", info)
	}

	expiring, err = ExpiringCertificates(cfg, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("expiring certificates: %v", err)
	}
	if len(expiring) != 0 {
		t.Fatalf("expected no certificate within a day, got %d", len(expiring))
	}

	expired, err := ExpiringCertificates(cfg, 0, now.Add(11*24*time.Hour))
	if err != nil {
		t.Fatalf("expiring certificates: %v", err)
	}
	if len(expired) != 1 || !expired[0].IsExpired {
		t.Fatalf("expected expired certificate, got %+v", expired)
	}
}

// echoServer accepts connections on ln and echoes one line back on each.
func echoServer(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				_, _ = io.WriteString(conn, line)
			}()
		}
	}()
}

func exchange(t *testing.T, conn net.Conn) {
	t.Helper()
	defer conn.Close()
	if _, err := io.WriteString(conn, "ping\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ping\n" {
		t.Fatalf("expected echo, got %q", line)
	}
}

func TestDialContextPlain(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	echoServer(t, ln)

	d := &Dialer{Timeout: time.Second}
	conn, err := d.DialContext(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	exchange(t, conn)
}

func TestDialContextTLS(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir(), time.Now().Add(24*time.Hour))
	serverCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("load server cert: %v", err)
	}

	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{serverCert}})
	defer tlsLn.Close()
	echoServer(t, tlsLn)

	clientTLS, err := BuildTLSConfig(TLSConfig{Enabled: true, CAPath: certPath})
	if err != nil {
		t.Fatalf("build tls config: %v", err)
	}
	d := &Dialer{Timeout: 2 * time.Second, TLS: clientTLS}
	conn, err := d.DialContext(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial tls: %v", err)
	}
	if _, ok := conn.(*tls.Conn); !ok {
		t.Fatalf("expected *tls.Conn, got %T", conn)
	}
	exchange(t, conn)
}

func TestDialContextTLSRejectsUnknownAuthority(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir(), time.Now().Add(24*time.Hour))
	serverCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("load server cert: %v", err)
	}
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{serverCert}})
	defer tlsLn.Close()
	echoServer(t, tlsLn)

	d := &Dialer{Timeout: 2 * time.Second, TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	if _, err := d.DialContext(context.Background(), ln.Addr().String()); err == nil {
		t.Fatal("expected handshake failure")
	}
}

// socksServer is a minimal unauthenticated SOCKS5 CONNECT proxy.
func socksServer(t *testing.T, ln net.Listener, connected chan<- string) {
	t.Helper()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSocks(conn, connected)
		}
	}()
}

func serveSocks(conn net.Conn, connected chan<- string) {
	defer conn.Close()

	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil || greeting[0] != 5 {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, greeting[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{5, 0}); err != nil {
		return
	}

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil || req[1] != 1 {
		return
	}
	var host string
	switch req[3] {
	case 1, 4:
		ip := make([]byte, 4)
		if req[3] == 4 {
			ip = make([]byte, 16)
		}
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 3:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port))))
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		_, _ = conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	connected <- target
	if _, err := conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}
	go func() { _, _ = io.Copy(upstream, conn) }()
	_, _ = io.Copy(conn, upstream)
}

func TestDialContextThroughSocksProxy(t *testing.T) {
	target, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("listen target: %v", err)
	}
	defer target.Close()
	echoServer(t, target)

	proxyLn, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("listen proxy: %v", err)
	}
	defer proxyLn.Close()
	connected := make(chan string, 1)
	socksServer(t, proxyLn, connected)

	d := &Dialer{Timeout: 2 * time.Second, Proxy: "socks5://" + proxyLn.Addr().String()}
	conn, err := d.DialContext(context.Background(), target.Addr().String())
	if err != nil {
		t.Fatalf("dial through proxy: %v", err)
	}
	exchange(t, conn)

	select {
	case got := <-connected:
		if got != target.Addr().String() {
			t.Fatalf("expected proxy to connect to %s, got %s", target.Addr(), got)
		}
	case <-time.After(time.Second):
		t.Fatal("proxy never connected upstream")
	}
}

func TestParseProxy(t *testing.T) {
	if _, err := ParseProxy("socks5h://user:pw@proxy:1080"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, raw := range []string{"http://proxy:8080", "socks5://", "::bad"} {
		if _, err := ParseProxy(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
