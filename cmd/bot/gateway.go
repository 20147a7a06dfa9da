package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/live-voice-lab/internal/logging"
)

// sensitiveKeys lists JSON keys which should never be logged in plaintext.
var sensitiveKeys = map[string]struct{}{
	"token": {}, "session_id": {}, "access_token": {}, "refresh_token": {},
	"authorization": {}, "password": {}, "email": {}, "client_secret": {},
}

// redactAny replaces values of sensitive keys in a decoded JSON value.
// Maps and slices are modified in place.
func redactAny(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		for k, val := range vv {
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				vv[k] = "<redacted>"
				continue
			}
			vv[k] = redactAny(val)
		}
		return vv
	case []any:
		for i, it := range vv {
			vv[i] = redactAny(it)
		}
		return vv
	default:
		return v
	}
}

// shortenStrings replaces string values longer than limit with a size note.
func shortenStrings(v any, limit int) any {
	switch vv := v.(type) {
	case map[string]any:
		for k, val := range vv {
			vv[k] = shortenStrings(val, limit)
		}
		return vv
	case []any:
		for i, it := range vv {
			vv[i] = shortenStrings(it, limit)
		}
		return vv
	case string:
		if len(vv) > limit {
			return fmt.Sprintf("<redacted %d bytes>", len(vv))
		}
		return vv
	default:
		return v
	}
}

// gatewayLogger logs raw gateway events at debug level with secrets and
// large strings removed.
type gatewayLogger struct {
	maxPayload  int
	redactLarge int
}

func (g gatewayLogger) payload(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "<raw data omitted>"
	}
	v = shortenStrings(redactAny(v), g.redactLarge)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "<raw data omitted>"
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(b) > g.maxPayload {
		return fmt.Sprintf("%s<truncated %d bytes>", b[:g.maxPayload], len(b))
	}
	return string(b)
}

func (g gatewayLogger) handle(_ *discordgo.Session, evt *discordgo.Event) {
	logging.Debugw("discord event", "type", evt.Type, "seq", evt.Sequence, "payload", g.payload(evt.RawData))
}
