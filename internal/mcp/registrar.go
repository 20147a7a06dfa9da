package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/live-voice-lab/internal/logging"
)

// Register announces a tool server to a registry by posting {name, url} to
// <registry>/mcp/register. An empty registry is a no-op.
func Register(ctx context.Context, registry, name, serverURL string) error {
	if registry == "" {
		return nil
	}
	b, err := json.Marshal(map[string]string{"name": name, "url": serverURL})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	endpoint := strings.TrimRight(registry, "/") + "/mcp/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp register failed: %s", resp.Status)
	}
	logging.Infow("registered with mcp registry", "name", name, "registry", registry)
	return nil
}
