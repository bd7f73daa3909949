// SPDX-License-Identifier: MIT

package mitm

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleConnListener_AcceptOnceThenBlocks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ln := newSingleConnListener(server)

	got, err := ln.Accept()
	require.NoError(t, err)
	assert.Same(t, server, got)

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	select {
	case <-errCh:
		t.Fatal("second Accept must block until Close")
	case <-time.After(50 * time.Millisecond):
	}

	ln.Close()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Accept did not unblock after Close")
	}
}

func TestSingleConnListener_CloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ln := newSingleConnListener(server)
	assert.NotPanics(t, func() {
		ln.Close()
		ln.Close()
	})
}
