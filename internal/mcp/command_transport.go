package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/live-voice-lab/internal/logging"
)

// maxStdioLine bounds a single JSON-RPC message read from a child process.
const maxStdioLine = 4 << 20

// stdioTransport carries newline-delimited JSON-RPC over the stdout and
// stdin of a spawned tool server.
type stdioTransport struct {
	server string
	stdout io.ReadCloser
	stdin  io.WriteCloser
}

func newStdioTransport(server string, stdout io.ReadCloser, stdin io.WriteCloser) *stdioTransport {
	return &stdioTransport{server: server, stdout: stdout, stdin: stdin}
}

func (t *stdioTransport) Connect(context.Context) (sdk.Connection, error) {
	return newStdioConn(t.server, t.stdout, t.stdin), nil
}

// stdioConn is one session over a process's pipes. Lines that are not
// JSON-RPC, such as startup banners, are logged and skipped.
type stdioConn struct {
	server string
	stdout io.ReadCloser
	stdin  io.WriteCloser

	msgs    chan jsonrpc.Message
	done    chan struct{}
	readErr error // valid once msgs is closed

	writeMu  sync.Mutex
	once     sync.Once
	closeErr error
}

func newStdioConn(server string, stdout io.ReadCloser, stdin io.WriteCloser) *stdioConn {
	c := &stdioConn{
		server: server,
		stdout: stdout,
		stdin:  stdin,
		msgs:   make(chan jsonrpc.Message),
		done:   make(chan struct{}),
	}
	go c.scan()
	return c
}

func (c *stdioConn) scan() {
	defer close(c.msgs)
	sc := bufio.NewScanner(c.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxStdioLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.DecodeMessage(line)
		if err != nil {
			logging.Debugw("mcp stdio: skipping non-message line", "server", c.server, "error", err, "bytes", len(line))
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			c.readErr = io.EOF
			return
		}
	}
	err := sc.Err()
	select {
	case <-c.done:
		err = nil
	default:
	}
	if err != nil {
		logging.Warnw("mcp stdio: read failed", "server", c.server, "error", err)
		c.readErr = err
		return
	}
	c.readErr = io.EOF
}

func (c *stdioConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.msgs:
		if !ok {
			return nil, c.readErr
		}
		return msg, nil
	}
}

func (c *stdioConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *stdioConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.closeErr = errors.Join(c.stdin.Close(), c.stdout.Close())
		logging.Debugw("mcp stdio: closed", "server", c.server)
	})
	return c.closeErr
}

func (c *stdioConn) SessionID() string { return "" }
