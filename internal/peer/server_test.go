// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package peer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	mu      sync.Mutex
	known   map[string]bool
	records []string
}

func (f *fakeRegistry) KnownSID(sid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[sid]
}

func (f *fakeRegistry) RecordRemoteArtifact(sid, ts string, raw []byte, body model.DataBody) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("data/%s/parsed/output-%s_%s.dat", sid, sid, ts)
	f.records = append(f.records, path)
	return path, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T, reg *fakeRegistry) (*Server, context.CancelFunc) {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", reg, testLogger(), time.Second, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return srv, cancel
}

func TestServerAcceptsKnownSIDAndRecordsArtifact(t *testing.T) {
	reg := &fakeRegistry{known: map[string]bool{"child-1": true}}
	srv, _ := startTestServer(t, reg)

	client := NewClient(2 * time.Second)
	resp, err := client.Send(srv.Addr().String(), "child-1", model.DataBody{Q: 1.1, D: 2.2})
	require.NoError(t, err)
	require.Equal(t, model.RespOK, resp.Resp)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.Len(t, reg.records, 1)
}

func TestServerRespondsOKForUnknownSIDPerLegacyBehaviour(t *testing.T) {
	reg := &fakeRegistry{known: map[string]bool{}}
	srv, _ := startTestServer(t, reg)

	client := NewClient(2 * time.Second)
	resp, err := client.Send(srv.Addr().String(), "ghost", model.DataBody{Q: 1, D: 2})
	require.NoError(t, err)
	require.Equal(t, model.RespOK, resp.Resp)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.Empty(t, reg.records)
}

func TestServerRespondsKOForGarbage(t *testing.T) {
	reg := &fakeRegistry{known: map[string]bool{}}
	srv, _ := startTestServer(t, reg)

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x00, 0x00, 0x00, 0x05, 'g', 'a', 'r', 'b', 'a'})
	require.NoError(t, err)

	resp, err := ReadPacket(conn, 0)
	require.NoError(t, err)
	require.NotNil(t, resp.Response)
	require.Equal(t, model.RespKO, resp.Response.Resp)
}

func TestServerHandlesConcurrentConnections(t *testing.T) {
	reg := &fakeRegistry{known: map[string]bool{"child-1": true}}
	srv, _ := startTestServer(t, reg)

	client := NewClient(2 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Send(srv.Addr().String(), "child-1", model.DataBody{Q: 1, D: 1})
			require.NoError(t, err)
			require.Equal(t, model.RespOK, resp.Resp)
		}()
	}
	wg.Wait()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.Len(t, reg.records, 8)
}
