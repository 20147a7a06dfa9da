package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoArgs struct {
	Message string `json:"message"`
}

func echoServer() *sdk.Server {
	s := sdk.NewServer(&sdk.Implementation{Name: "echo-server", Version: "1.0.0"}, nil)
	sdk.AddTool(s, &sdk.Tool{Name: "echo", Description: "echo back messages"}, func(ctx context.Context, req *sdk.CallToolRequest, args echoArgs) (*sdk.CallToolResult, any, error) {
		if args.Message == "" {
			return nil, nil, errors.New("message is required")
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: args.Message}}}, nil, nil
	})
	return s
}

func TestConnectWebSocketCallsTool(t *testing.T) {
	server := echoServer()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		go func() {
			ss, err := server.Connect(context.Background(), NewWebSocketTransport(conn), nil)
			if err != nil {
				_ = conn.Close()
				return
			}
			_ = ss.Wait()
		}()
	}))
	defer srv.Close()

	w := NewClientWrapper("test-client", "test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// http scheme is rewritten to ws
	if err := w.ConnectWebSocket(ctx, srv.URL+"/mcp/ws"); err != nil {
		t.Fatalf("ConnectWebSocket: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	got, err := w.CallTool(ctx, "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got != "hello" {
		t.Fatalf("echo: want=hello got=%q", got)
	}
	names, err := w.ListTools(ctx)
	if err != nil || len(names) != 1 || names[0] != "echo" {
		t.Fatalf("ListTools: %v %v", names, err)
	}
}

func TestStdioTransportRoundTrip(t *testing.T) {
	// client writes -> server reads, server writes -> client reads
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	server := echoServer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ss, err := server.Connect(ctx, newStdioTransport("echo", c2sR, s2cW), nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	w := NewClientWrapper("pipe-client", "test")
	if err := w.ConnectTransport(ctx, newStdioTransport("echo", s2cR, c2sW)); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	defer w.Close()

	got, err := w.CallTool(ctx, "echo", map[string]any{"message": "over stdio"})
	if err != nil || got != "over stdio" {
		t.Fatalf("CallTool: got %q err %v", got, err)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestStdioConnSkipsBannerLines(t *testing.T) {
	r, w := io.Pipe()
	conn := newStdioConn("noisy", r, nopWriteCloser{io.Discard})
	defer conn.Close()

	go func() {
		io.WriteString(w, "weather server v1 starting\n\n")
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`+"\n")
		w.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := msg.(*jsonrpc.Response); !ok {
		t.Fatalf("want *jsonrpc.Response, got %T", msg)
	}
	if _, err := conn.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("after stdout closes: want io.EOF got %v", err)
	}
}

func TestStdioConnWriteAfterClose(t *testing.T) {
	r, _ := io.Pipe()
	conn := newStdioConn("closed", r, nopWriteCloser{io.Discard})
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := &jsonrpc.Request{Method: "ping"}
	if err := conn.Write(context.Background(), req); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("want io.ErrClosedPipe got %v", err)
	}
	if _, err := conn.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Read after close: want io.EOF got %v", err)
	}
}

func TestToolFailureIsToolError(t *testing.T) {
	ct, st := sdk.NewInMemoryTransports()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ss, err := echoServer().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	w := NewClientWrapper("mem-client", "test")
	if err := w.ConnectTransport(ctx, ct); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	defer w.Close()

	_, err = w.CallTool(ctx, "echo", map[string]any{"message": ""})
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("want *ToolError, got %T %v", err, err)
	}
	if te.Tool != "echo" || !strings.Contains(te.Message, "message is required") {
		t.Fatalf("unexpected tool error: %+v", te)
	}
}

func TestCallBeforeConnect(t *testing.T) {
	w := NewClientWrapper("idle", "test")
	if _, err := w.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close on idle wrapper: %v", err)
	}
}

func TestRegisterPostsRecord(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp/register" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	if err := Register(context.Background(), srv.URL+"/", "tools", "ws://tools/mcp/ws"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.Contains(body, `"name":"tools"`) {
		t.Fatalf("unexpected body %s", body)
	}
	if err := Register(context.Background(), "", "tools", "x"); err != nil {
		t.Fatalf("empty registry should be a no-op: %v", err)
	}
}
