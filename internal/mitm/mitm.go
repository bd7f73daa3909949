// SPDX-License-Identifier: MIT

// Package mitm implements the TLS man-in-the-middle endpoint: it accepts
// CONNECT tunnels, asks an Interceptor whether to decrypt each one, and for
// decrypted tunnels terminates TLS with a freshly minted leaf certificate
// and replays the plaintext HTTP traffic through the Interceptor. Tunnels
// the Interceptor declines stay opaque byte-for-byte pass-through.
package mitm

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	xlog "github.com/devproxy-oss/devproxy/internal/log"
	platformnet "github.com/devproxy-oss/devproxy/internal/platform/net"
)

// Interceptor is the collaborator the engine implements. DecryptHost is
// called once per CONNECT, before any bytes are decrypted. ServeHTTP is
// called once per plaintext request recovered from a decrypted tunnel (or,
// in non-decrypt proxy mode, once per proxied request) and must write a
// response to w.
type Interceptor interface {
	DecryptHost(ctx context.Context, host string, processID int) bool
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// LeafProvider mints or retrieves a TLS certificate for a decrypted host.
type LeafProvider interface {
	LeafFor(host string) (*tls.Certificate, error)
}

// ProcessResolver associates a local TCP port with an owning process id.
// It is an interface purely so tests can stub it; internal/platform/procnet
// is the production implementation.
type ProcessResolver interface {
	PID(localPort int) int
}

// Proxy is the explicit-proxy HTTP listener: it handles CONNECT for TLS
// interception and forwards non-CONNECT requests (plain HTTP proxying)
// directly to the Interceptor.
type Proxy struct {
	Interceptor Interceptor
	Leaves      LeafProvider
	Processes   ProcessResolver

	server *http.Server
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	p.server = &http.Server{
		Handler:           http.HandlerFunc(p.handle),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.Interceptor.ServeHTTP(w, r)
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, _, err := platformnet.NormalizeAuthority(r.Host, "https")
	if err != nil {
		host = r.Host
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		xlog.WithComponent("mitm").Error().Err(err).Msg("hijack failed")
		return
	}
	defer clientConn.Close()

	pid := p.resolvePID(clientConn)
	decrypt := p.Interceptor.DecryptHost(r.Context(), host, pid)

	if !decrypt {
		p.tunnelOpaque(clientConn, r.Host)
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	leaf, err := p.Leaves.LeafFor(host)
	if err != nil {
		xlog.WithComponent("mitm").Error().Err(err).Str("host", host).Msg("leaf certificate mint failed")
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
		MinVersion:   tls.VersionTLS12,
	})
	defer tlsConn.Close()

	ln := newSingleConnListener(tlsConn)
	defer ln.Close()

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = "https"
			r.URL.Host = r.Host
			p.Interceptor.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 30 * time.Second,
	}
	_ = srv.Serve(ln)
}

func (p *Proxy) resolvePID(conn net.Conn) int {
	if p.Processes == nil {
		return 0
	}
	// The client's own socket is the one whose local port is this
	// connection's remote port.
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return p.Processes.PID(addr.Port)
}

// tunnelOpaque copies bytes between the client and the real origin without
// any interception, for hosts the operator didn't opt into decrypting.
func (p *Proxy) tunnelOpaque(clientConn net.Conn, hostport string) {
	if !strings.Contains(hostport, ":") {
		hostport = hostport + ":443"
	}
	upstream, err := net.DialTimeout("tcp", hostport, 10*time.Second)
	if err != nil {
		xlog.WithComponent("mitm").Error().Err(err).Str("host", hostport).Msg("opaque dial failed")
		return
	}
	defer upstream.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(upstream, clientConn); done <- struct{}{} }()
	go func() { _, _ = io.Copy(clientConn, upstream); done <- struct{}{} }()
	<-done
}

// ViaHeader builds the Via header value the engine adds to forwarded
// requests: "<HTTP version> dev-proxy/<product version>".
func ViaHeader(protoMajor, protoMinor int, productVersion string) string {
	return strconv.Itoa(protoMajor) + "." + strconv.Itoa(protoMinor) + " dev-proxy/" + productVersion
}
