package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/laulauland/ragrep/internal/indexer"
	"github.com/laulauland/ragrep/internal/search"
	"github.com/laulauland/ragrep/internal/watcher"
)

// SearchHandler answers one query through the search pipeline.
type SearchHandler interface {
	Search(ctx context.Context, req search.SearchRequest) (*search.SearchResponse, error)
}

// Server implements the daemon's state machine: CHECK_PID, BIND_ENDPOINT,
// WATCH_START, RUN_LOOP, TEARDOWN. RUN_LOOP concurrently accepts client
// connections (one handler goroutine per connection) and consumes the
// watcher's debounced path batches, serializing them against the shared
// embedder/store state behind a single mutex.
type Server struct {
	cfg     Config
	handler SearchHandler
	w       watcher.Watcher
	idx     *indexer.Indexer

	pidfile  *PIDFile
	listener net.Listener

	// mu guards the shared application state (embedder, reranker, store)
	// per the concurrency model's single-lock policy: held for the
	// duration of a query (embed→recall→rerank) or a reindex batch.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewServer builds a daemon server. w and idx may be nil, in which case
// WATCH_START is skipped and no background reindexing occurs.
func NewServer(cfg Config, handler SearchHandler, w watcher.Watcher, idx *indexer.Indexer) *Server {
	cfg = cfg.WithDefaults()
	return &Server{
		cfg:     cfg,
		handler: handler,
		w:       w,
		idx:     idx,
		pidfile: NewPIDFile(cfg.PIDPath),
	}
}

// ErrAlreadyRunning is returned by Run when a live daemon already holds
// the pid file for this repository.
var ErrAlreadyRunning = errors.New("daemon already running")

// Run executes the full server lifecycle and blocks until ctx is
// cancelled or a fatal error occurs.
func (s *Server) Run(ctx context.Context, root string) error {
	if err := s.checkPID(); err != nil {
		return err
	}
	if err := s.bindEndpoint(); err != nil {
		return err
	}
	defer s.teardown()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if s.w != nil {
		go s.watchStart(watchCtx, root)
	}

	return s.runLoop(ctx)
}

// checkPID implements CHECK_PID: if a live daemon holds the pid file,
// fail; otherwise remove any stale pid/socket markers left behind.
func (s *Server) checkPID() error {
	if s.pidfile.IsRunning() {
		return ErrAlreadyRunning
	}
	_ = s.pidfile.Remove()
	_ = os.Remove(s.cfg.SocketPath)
	return nil
}

// bindEndpoint implements BIND_ENDPOINT: write our pid, then bind the
// socket listener at the well-known path.
func (s *Server) bindEndpoint() error {
	if err := s.pidfile.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	_ = os.Remove(s.cfg.SocketPath)
	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		_ = s.pidfile.Remove()
		return fmt.Errorf("bind socket %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = listener
	slog.Info("daemon listening", slog.String("socket", s.cfg.SocketPath))
	return nil
}

// watchStart implements WATCH_START: begin watching the repository root.
// Errors are logged, not fatal — a daemon can serve queries without a
// live watcher, it just won't pick up filesystem changes automatically.
func (s *Server) watchStart(ctx context.Context, root string) {
	if err := s.w.Start(ctx, root); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watcher stopped", slog.String("error", err.Error()))
	}
}

// runLoop implements RUN_LOOP: concurrently await new connections and
// debounced change batches.
func (s *Server) runLoop(ctx context.Context) error {
	conns := s.acceptLoop(ctx)

	var watchEvents <-chan []string
	var watchErrors <-chan error
	if s.w != nil {
		watchEvents = s.w.Events()
		watchErrors = s.w.Errors()
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()

		case conn, ok := <-conns:
			if !ok {
				s.wg.Wait()
				return nil
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConnection(ctx, conn)
			}()

		case batch, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			s.reindex(ctx, batch)

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// reindex runs a partial reindex for a debounced batch of changed paths,
// holding the shared-state lock for the duration per the concurrency
// model: a reindex in progress completes to a consistent per-file
// boundary, never observed half-applied by a concurrent query.
func (s *Server) reindex(ctx context.Context, batch []string) {
	if s.idx == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.idx.PartialReindex(ctx, batch)
	if err != nil {
		slog.Error("partial reindex failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("partial reindex complete",
		slog.Int("files", result.Files),
		slog.Int("chunks", result.Chunks),
		slog.Int("reused", result.Reused),
		slog.Int("recomputed", result.Recomputed),
	)
}

// acceptLoop runs listener.Accept in a goroutine so runLoop can select
// over it alongside the watcher channels, and closes the returned
// channel once the listener is closed.
func (s *Server) acceptLoop(ctx context.Context) <-chan net.Conn {
	out := make(chan net.Conn)
	go func() {
		defer close(out)
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("accept error", slog.String("error", err.Error()))
				return
			}
			select {
			case out <- conn:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()
	return out
}

// handleConnection serially processes NDJSON request lines on one
// connection until EOF or a decode error closes it.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			slog.Warn("closing connection on malformed message", slog.String("error", err.Error()))
			return
		}

		if env.Type != MessageTypeRequest || env.Request == nil {
			slog.Warn("skipping unexpected message type", slog.String("type", string(env.Type)))
			continue
		}

		resp := s.handleRequest(ctx, env.ID, *env.Request)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, id string, req search.SearchRequest) Envelope {
	if s.handler == nil {
		return NewError(id, "no search handler configured")
	}

	s.mu.Lock()
	resp, err := s.handler.Search(ctx, req)
	s.mu.Unlock()
	if err != nil {
		return NewError(id, err.Error())
	}
	return NewResponse(id, *resp)
}

// teardown implements TEARDOWN: remove the pid marker and socket.
func (s *Server) teardown() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.cfg.SocketPath)
	_ = s.pidfile.Remove()
}

// Close stops the server by closing its listener; Run returns once the
// accept loop observes the closed listener.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
