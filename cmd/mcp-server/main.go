// Command mcp-server serves the weather and telemetry tools over MCP on a
// websocket endpoint, /mcp/ws.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/live-voice-lab/internal/config"
	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/mcp"
	"github.com/live-voice-lab/internal/metrics"
	"github.com/live-voice-lab/internal/telemetry"
	"github.com/live-voice-lab/internal/tools"
	"github.com/live-voice-lab/internal/weather"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default ./assistant.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.FatalExitf("mcp server failed", "error", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()
	wc := weather.New(cfg.Tools.WeatherAPIKey)
	if !wc.Configured() {
		logging.Warnw("OPENWEATHER_API_KEY not set; weather tools will report an error")
	}
	server := tools.NewServer(wc, telemetry.New(cfg.Telemetry, nil), m)

	srv := &http.Server{
		Addr:              cfg.MCPServer.Addr,
		Handler:           routes(ctx, server),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Infow("mcp server listening", "addr", cfg.MCPServer.Addr)
		errCh <- srv.ListenAndServe()
	}()

	if cfg.MCPServer.RegistryURL != "" {
		public := cfg.MCPServer.PublicURL
		if public == "" {
			public = "ws://localhost" + cfg.MCPServer.Addr + "/mcp/ws"
		}
		if err := mcp.Register(ctx, cfg.MCPServer.RegistryURL, cfg.MCPServer.Name, public); err != nil {
			logging.Warnw("mcp registry registration failed", "registry", cfg.MCPServer.RegistryURL, "error", err)
		}
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// routes mounts /health, /metrics and the MCP websocket endpoint. Sessions
// are bound to ctx.
func routes(ctx context.Context, server *sdk.Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/mcp/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("ws upgrade failed", "error", err)
			return
		}
		go func() {
			ss, err := server.Connect(ctx, mcp.NewWebSocketTransport(conn), nil)
			if err != nil {
				logging.Errorw("mcp server connect error", "error", err)
				_ = conn.Close()
				return
			}
			if err := ss.Wait(); err != nil {
				logging.Debugw("mcp session ended", "remote", r.RemoteAddr, "error", err)
				return
			}
			logging.Debugw("mcp session ended", "remote", r.RemoteAddr)
		}()
	})
	return mux
}
