// SPDX-License-Identifier: MIT

package mitm

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devtls "github.com/devproxy-oss/devproxy/internal/tls"
)

func TestViaHeader(t *testing.T) {
	assert.Equal(t, "1.1 dev-proxy/0.1.0", ViaHeader(1, 1, "0.1.0"))
}

type fakeInterceptor struct {
	decrypt bool
	served  chan *http.Request
}

func (f *fakeInterceptor) DecryptHost(ctx context.Context, host string, pid int) bool {
	return f.decrypt
}

func (f *fakeInterceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case f.served <- r:
	default:
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestProxy_ConnectDecryptsAndServes(t *testing.T) {
	tmpDir := t.TempDir()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	ca, err := devtls.LoadOrCreateCA(tmpDir+"/ca.cer", tmpDir+"/ca.key", logger)
	require.NoError(t, err)
	leaves := devtls.NewLeafCache(ca)

	// The interceptor decrypts, so the opaque tunnel path is never taken and
	// no upstream server is started.
	fi := &fakeInterceptor{decrypt: true, served: make(chan *http.Request, 1)}
	proxy := &Proxy{Interceptor: fi, Leaves: leaves}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = proxy.ListenAndServe(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "200")

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true}) // #nosec G402
	require.NoError(t, tlsConn.Handshake())

	_, err = tlsConn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	select {
	case r := <-fi.served:
		assert.Equal(t, "example.com", r.Host)
	case <-time.After(2 * time.Second):
		t.Fatal("interceptor never received the decrypted request")
	}
}
