// Package mcp connects to Model Context Protocol tool servers over
// websocket, a spawned process's stdio or an in-process transport.
package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/mcp/config"
)

// ErrNotConnected is returned by calls made before a session exists.
var ErrNotConnected = errors.New("mcp: not connected")

// KeepaliveInterval is how often an idle session is pinged.
var KeepaliveInterval = 30 * time.Second

// ToolError reports a tool that ran and failed. The server's message is
// kept verbatim so it can be shown to the user.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// ClientWrapper owns one client session and whatever process or socket
// backs it.
type ClientWrapper struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	closers         []func() error
	mu              sync.Mutex
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil)}
}

// Connect dials the server described by cfg.
func (w *ClientWrapper) Connect(ctx context.Context, name string, cfg config.ServerConfig) error {
	if cfg.Transport != nil && cfg.Transport.URL != "" {
		switch strings.ToLower(cfg.Transport.Type) {
		case "", "ws", "websocket":
			return w.ConnectWebSocket(ctx, cfg.Transport.URL)
		default:
			return fmt.Errorf("mcp server %s: unsupported transport %q", name, cfg.Transport.Type)
		}
	}
	return w.ConnectCommand(ctx, name, cfg.Command, cfg.Args, cfg.Env)
}

// ConnectWebSocket connects to the MCP server websocket endpoint and creates a session.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	if err := w.ConnectTransport(ctx, NewWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Infow("mcp client connected", "url", u.String())
	return nil
}

// ConnectCommand spawns a local MCP server process and connects via stdio.
func (w *ClientWrapper) ConnectCommand(ctx context.Context, serverName, command string, args []string, env map[string]string) error {
	if command == "" {
		return errors.New("command is required")
	}
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		cmd.Env = merged
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = stdout.Close()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		_ = stdin.Close()
		return err
	}
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdin.Close()
		_ = stderr.Close()
		return err
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logging.Debugw("mcp server stderr", "server", serverName, "line", scanner.Text())
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	if err := w.ConnectTransport(ctx, newStdioTransport(serverName, stdout, stdin)); err != nil {
		_ = stdout.Close()
		_ = stdin.Close()
		_ = stderr.Close()
		_ = cmd.Process.Kill()
		<-waitCh
		return err
	}
	logging.Infow("mcp command server started", "server", serverName, "command", command, "args", strings.Join(args, " "))

	w.appendCloser(func() error {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		var err error
		select {
		case err = <-waitCh:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			err = <-waitCh
		}
		if err != nil {
			logging.Warnw("mcp command server exited with error", "server", serverName, "error", err)
		} else {
			logging.Infow("mcp command server exited", "server", serverName)
		}
		return err
	})
	return nil
}

// ConnectTransport starts a session over an arbitrary transport, such as one
// half of sdk.NewInMemoryTransports.
func (w *ClientWrapper) ConnectTransport(ctx context.Context, transport sdk.Transport) error {
	sess, err := w.client.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	w.session = sess
	w.keepaliveCancel = cancel
	w.mu.Unlock()
	go func() {
		ticker := time.NewTicker(KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				if err := sess.Ping(kaCtx, nil); err != nil && kaCtx.Err() == nil {
					logging.Debugw("mcp keepalive ping failed", "error", err)
				}
			}
		}
	}()
	return nil
}

func (w *ClientWrapper) appendCloser(fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closers = append(w.closers, fn)
}

func (w *ClientWrapper) currentSession() *sdk.ClientSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// ListTools returns the names of the tools the server advertises.
func (w *ClientWrapper) ListTools(ctx context.Context) ([]string, error) {
	sess := w.currentSession()
	if sess == nil {
		return nil, ErrNotConnected
	}
	var names []string
	for tool, err := range sess.Tools(ctx, nil) {
		if err != nil {
			return names, err
		}
		names = append(names, tool.Name)
	}
	return names, nil
}

// CallTool invokes a tool and returns its text content. A result flagged as
// an error comes back as *ToolError.
func (w *ClientWrapper) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	sess := w.currentSession()
	if sess == nil {
		return "", ErrNotConnected
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range res.Content {
		if t, ok := c.(*sdk.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	if res.IsError {
		return "", &ToolError{Tool: name, Message: b.String()}
	}
	return b.String(), nil
}

func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session != nil {
		if err := w.session.Close(); err != nil {
			errs = append(errs, err)
		}
		w.session = nil
	}
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
