package main

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

	llmcomplete "github.com/pb1729/llm-complete"
	defaults "github.com/pb1729/llm-complete/default"
	"github.com/pb1729/llm-complete/extension"
	"github.com/pb1729/llm-complete/generate"
	"github.com/pb1729/llm-complete/notebook"
)

// Completer runs one completion against the notebook carried by ctx.
type Completer interface {
	Assist(ctx context.Context) (*generate.Result, error)
	Authenticated() bool
	Close()
}

// Factory builds a Completer reading notebooks from tracker. Every Completer
// the server builds shares inflight, so reloads keep busy cells busy.
type Factory func(ctx context.Context, tracker extension.Tracker, inflight *generate.Inflight) (Completer, error)

// activate is the production Factory: the extension wired to the settings
// file and config directory of the current user.
func activate(ctx context.Context, tracker extension.Tracker, inflight *generate.Inflight) (Completer, error) {
	x, err := extension.Activate(ctx, extension.NewRegistry(), extension.NewFileRegistry(""),
		&extension.MemoryPalette{}, tracker, extension.WithInflight(inflight))
	if err != nil {
		return nil, err
	}
	return x, nil
}

type panelKey struct{}

// requestTracker hands the extension the notebook decoded from the request
// being served.
type requestTracker struct{}

func (requestTracker) CurrentNotebook(ctx context.Context) notebook.Panel {
	p, _ := ctx.Value(panelKey{}).(notebook.Panel)
	return p
}

func withPanel(ctx context.Context, p notebook.Panel) context.Context {
	return context.WithValue(ctx, panelKey{}, p)
}

// Server listens on a Unix domain socket for completion requests.
type Server struct {
	listener net.Listener
	sockPath string
	factory  Factory
	inflight *generate.Inflight

	mu     sync.RWMutex
	engine Completer
}

// NewServer creates a new IPC server bound to the given socket path.
func NewServer(sockPath string) (*Server, error) {
	return NewServerWithFactory(sockPath, activate)
}

// NewServerWithFactory creates a new IPC server whose completer is built by
// factory (again on every config reload).
func NewServerWithFactory(sockPath string, factory Factory) (*Server, error) {
	cfg, err := llmcomplete.LoadConfig()
	if err != nil {
		cfg = llmcomplete.DefaultConfig()
	}
	inflight := generate.NewInflight(generate.InflightTTL(cfg))

	engine, err := factory(context.Background(), requestTracker{}, inflight)
	if err != nil {
		inflight.Close()
		return nil, fmt.Errorf("activate: %w", err)
	}

	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		engine.Close()
		inflight.Close()
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		engine.Close()
		inflight.Close()
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		factory:  factory,
		inflight: inflight,
		engine:   engine,
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server and completer, and removes the socket file.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	s.mu.Unlock()
	s.inflight.Close()
	os.Remove(s.sockPath)
}

// Authenticated reports whether the current completer has a credential.
func (s *Server) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine != nil && s.engine.Authenticated()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "bytes", len(raw))

	// Check if this is a config request (has "action" field)
	var cfgReq llmcomplete.ConfigRequest
	if err := json.Unmarshal(raw, &cfgReq); err == nil && cfgReq.Action != "" {
		writeLine(conn, s.handleConfigRequest(&cfgReq))
		return
	}

	var req llmcomplete.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("invalid request", "error", err)
		writeLine(conn, &llmcomplete.Response{Error: &llmcomplete.Error{
			Code:    llmcomplete.CodeInvalidRequest,
			Message: err.Error(),
		}})
		return
	}

	writeLine(conn, s.complete(context.Background(), &req))
}

// complete runs one completion request and maps the outcome to a Response.
func (s *Server) complete(ctx context.Context, req *llmcomplete.Request) *llmcomplete.Response {
	resp := &llmcomplete.Response{RequestID: req.RequestID}

	doc, err := documentFromRequest(req)
	if err != nil {
		resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeInvalidRequest, Message: err.Error()}
		return resp
	}

	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeAPIError, Message: "server is shutting down"}
		return resp
	}

	res, err := engine.Assist(withPanel(ctx, doc))
	switch {
	case errors.Is(err, generate.ErrBusy):
		resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeBusy, Message: err.Error()}
	case err != nil:
		resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeAPIError, Message: err.Error()}
	case res.Skipped:
	default:
		resp.Changed = true
		resp.Source = res.Source
		slog.Debug("completed", "request_id", req.RequestID, "invocation", res.Invocation, "cell", res.CellID, "duration", res.Duration)
	}
	return resp
}

// documentFromRequest rebuilds the frontend's notebook state. The path keys
// the busy-cell guard, so it is required.
func documentFromRequest(req *llmcomplete.Request) (*notebook.Document, error) {
	if req.Path == "" {
		return nil, errors.New("path is required")
	}

	var cells []*notebook.DocCell
	if req.Cells != nil {
		cells = make([]*notebook.DocCell, 0, len(req.Cells))
		for i, c := range req.Cells {
			switch typ := notebook.CellType(c.CellType); typ {
			case notebook.CodeCell, notebook.MarkdownCell, notebook.RawCell:
				id := c.ID
				if id == "" {
					id = fmt.Sprintf("cell-%d", i)
				}
				cells = append(cells, notebook.NewCell(id, typ, c.Source))
			default:
				return nil, fmt.Errorf("cell %d: unknown cell_type %q", i, c.CellType)
			}
		}
	}

	doc := notebook.NewDocument(req.Path, req.Language, cells)
	// Without a cell list the focus cannot be checked; the engine skips such
	// a notebook anyway.
	if cells != nil && req.ActiveCell != nil && *req.ActiveCell >= 0 {
		pos := notebook.Position{Line: req.Cursor.Line, Column: req.Cursor.Column}
		if err := doc.SetActive(*req.ActiveCell, pos); err != nil {
			return nil, err
		}
	}
	doc.SetHeadless(req.NoEditor)
	return doc, nil
}

func (s *Server) handleConfigRequest(req *llmcomplete.ConfigRequest) *llmcomplete.ConfigResponse {
	var resp llmcomplete.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := llmcomplete.LoadConfig()
		if err != nil {
			resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeConfigError, Message: err.Error()}
		} else {
			resp.Config = cfg
		}

	case "reload":
		if err := s.reload(); err != nil {
			resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeConfigError, Message: err.Error()}
			break
		}
		cfg, _ := llmcomplete.LoadConfig()
		resp.Config = cfg

	case "defaults":
		resp.Config = llmcomplete.DefaultConfig()

	case "default_prompt":
		resp.Prompt = defaults.DefaultPrompt

	case "validate":
		cfg, err := llmcomplete.LoadConfig()
		if err != nil {
			resp.Error = &llmcomplete.Error{Code: llmcomplete.CodeConfigError, Message: err.Error()}
		} else {
			resp.Warnings = llmcomplete.ValidateConfig(cfg)
		}

	default:
		resp.Error = &llmcomplete.Error{
			Code:    llmcomplete.CodeUnknownAction,
			Message: "unknown config action: " + req.Action,
		}
	}
	return &resp
}

// reload re-activates the completer so config, prompt and credential
// changes take effect. Requests already running keep the old completer.
func (s *Server) reload() error {
	engine, err := s.factory(context.Background(), requestTracker{}, s.inflight)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.engine
	s.engine = engine
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	slog.Info("completer reloaded")
	return nil
}

func writeLine(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}
