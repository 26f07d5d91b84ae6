package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/laulauland/ragrep/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler answers every search with a fixed response, or an error
// when err is set.
type stubHandler struct {
	resp search.SearchResponse
	err  error
}

func (h *stubHandler) Search(_ context.Context, _ search.SearchRequest) (*search.SearchResponse, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &h.resp, nil
}

func serverTestConfig(t *testing.T) Config {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	socketPath := filepath.Join("/tmp", fmt.Sprintf("ragrep-server-test-%s.sock", suffix))
	pidPath := filepath.Join("/tmp", fmt.Sprintf("ragrep-server-test-%s.pid", suffix))
	t.Cleanup(func() {
		os.Remove(socketPath)
		os.Remove(pidPath)
	})
	return Config{SocketPath: socketPath, PIDPath: pidPath, Timeout: 5 * time.Second}
}

func startTestServer(t *testing.T, handler SearchHandler) (Config, func()) {
	t.Helper()
	cfg := serverTestConfig(t)
	srv := NewServer(cfg, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, t.TempDir())
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SocketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	return cfg, func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
	}
}

func TestServer_RunBindsSocket(t *testing.T) {
	cfg, stop := startTestServer(t, &stubHandler{})
	defer stop()

	_, err := os.Stat(cfg.SocketPath)
	require.NoError(t, err)
}

func TestServer_HandleSearch(t *testing.T) {
	expected := search.SearchResponse{
		Results: []search.SearchResult{{FilePath: "a.go", Score: 0.5}},
	}
	cfg, stop := startTestServer(t, &stubHandler{resp: expected})
	defer stop()

	client := NewClient(cfg)
	resp, err := client.Search(context.Background(), search.SearchRequest{Query: "a"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a.go", resp.Results[0].FilePath)
}

func TestServer_HandleSearchError(t *testing.T) {
	cfg, stop := startTestServer(t, &stubHandler{err: fmt.Errorf("no index found")})
	defer stop()

	client := NewClient(cfg)
	_, err := client.Search(context.Background(), search.SearchRequest{Query: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestServer_SerialRequestsOnOneConnection(t *testing.T) {
	cfg, stop := startTestServer(t, &stubHandler{
		resp: search.SearchResponse{Results: []search.SearchResult{{FilePath: "x.go"}}},
	})
	defer stop()

	conn, err := net.DialTimeout("unix", cfg.SocketPath, cfg.Timeout)
	require.NoError(t, err)
	defer conn.Close()

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("req-%d", i)
		require.NoError(t, encoder.Encode(NewRequest(id, search.SearchRequest{Query: "q"})))

		var env Envelope
		require.NoError(t, decoder.Decode(&env))
		assert.Equal(t, id, env.ID)
		assert.Equal(t, MessageTypeResponse, env.Type)
	}
}

func TestServer_CleansUpSocketAndPID(t *testing.T) {
	cfg := serverTestConfig(t)
	srv := NewServer(cfg, &stubHandler{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, t.TempDir())
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SocketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err := os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket should be cleaned up")

	_, err = os.Stat(cfg.PIDPath)
	assert.True(t, os.IsNotExist(err), "pid file should be cleaned up")
}

func TestServer_RejectsSecondInstance(t *testing.T) {
	cfg, stop := startTestServer(t, &stubHandler{})
	defer stop()

	second := NewServer(cfg, &stubHandler{}, nil, nil)
	err := second.Run(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestServer_ConcurrentConnections(t *testing.T) {
	cfg, stop := startTestServer(t, &stubHandler{
		resp: search.SearchResponse{Results: []search.SearchResult{{FilePath: "c.go"}}},
	})
	defer stop()

	const numClients = 5
	done := make(chan bool, numClients)

	for i := 0; i < numClients; i++ {
		go func(id int) {
			client := NewClient(cfg)
			_, err := client.Search(context.Background(), search.SearchRequest{Query: fmt.Sprintf("q-%d", id)})
			done <- err == nil
		}(i)
	}

	successCount := 0
	for i := 0; i < numClients; i++ {
		if <-done {
			successCount++
		}
	}
	assert.Equal(t, numClients, successCount)
}
