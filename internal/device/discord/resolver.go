package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// NameResolver provides human-friendly names for IDs when available.
type NameResolver interface {
	UserName(userID string) string
	GuildName(guildID string) string
	ChannelName(channelID string) string
}

// NoopResolver returns empty names.
type NoopResolver struct{}

func (NoopResolver) UserName(string) string    { return "" }
func (NoopResolver) GuildName(string) string   { return "" }
func (NoopResolver) ChannelName(string) string { return "" }

// sessionAPI is the slice of *discordgo.Session the resolver needs.
type sessionAPI interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// cacheTTL controls how long a resolved name is reused.
var cacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

// Resolver looks names up through the Discord API with a small TTL cache.
// Guild and channel names come from the gateway state when present.
type Resolver struct {
	api   sessionAPI
	state *discordgo.State
	now   func() time.Time

	mu       sync.Mutex
	users    map[string]cacheEntry
	guilds   map[string]cacheEntry
	channels map[string]cacheEntry
}

// NewResolver builds a resolver for s.
func NewResolver(s *discordgo.Session) *Resolver {
	if s == nil {
		return newResolver(nil)
	}
	r := newResolver(s)
	r.state = s.State
	return r
}

func newResolver(api sessionAPI) *Resolver {
	return &Resolver{
		api:      api,
		now:      time.Now,
		users:    make(map[string]cacheEntry),
		guilds:   make(map[string]cacheEntry),
		channels: make(map[string]cacheEntry),
	}
}

func (r *Resolver) cached(m map[string]cacheEntry, id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := m[id]; ok {
		if r.now().Before(e.expiry) {
			return e.val, true
		}
		delete(m, id)
	}
	return "", false
}

func (r *Resolver) store(m map[string]cacheEntry, id, val string) string {
	r.mu.Lock()
	m[id] = cacheEntry{val: val, expiry: r.now().Add(cacheTTL)}
	r.mu.Unlock()
	return val
}

func (r *Resolver) UserName(userID string) string {
	if r.api == nil || userID == "" {
		return ""
	}
	if v, ok := r.cached(r.users, userID); ok {
		return v
	}
	if u, err := r.api.User(userID); err == nil && u != nil {
		return r.store(r.users, userID, u.Username)
	}
	return ""
}

func (r *Resolver) GuildName(guildID string) string {
	if r.api == nil || guildID == "" {
		return ""
	}
	if v, ok := r.cached(r.guilds, guildID); ok {
		return v
	}
	if r.state != nil {
		if g, err := r.state.Guild(guildID); err == nil && g != nil {
			return r.store(r.guilds, guildID, g.Name)
		}
	}
	if g, err := r.api.Guild(guildID); err == nil && g != nil {
		return r.store(r.guilds, guildID, g.Name)
	}
	return ""
}

func (r *Resolver) ChannelName(channelID string) string {
	if r.api == nil || channelID == "" {
		return ""
	}
	if v, ok := r.cached(r.channels, channelID); ok {
		return v
	}
	if r.state != nil {
		if c, err := r.state.Channel(channelID); err == nil && c != nil {
			return r.store(r.channels, channelID, c.Name)
		}
	}
	if c, err := r.api.Channel(channelID); err == nil && c != nil {
		return r.store(r.channels, channelID, c.Name)
	}
	return ""
}
