package catalog

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
)

// ErrUnknownChannel is returned when a channel UUID has no catalog entry.
// The HTTP layer maps it to 404.
var ErrUnknownChannel = errors.New("catalog: unknown channel")

// Entry is everything the core needs to start fetching a channel.
type Entry struct {
	URL       string   `yaml:"url"`
	UserAgent string   `yaml:"user_agent"`
	// Transcode, when set, is an external command whose stdout becomes the
	// byte source. A "{url}" argument is substituted with the upstream URL.
	Transcode []string `yaml:"transcode"`
}

type file struct {
	Channels map[string]Entry `yaml:"channels"`
}

// Catalog resolves channel UUIDs to upstream endpoints from a YAML file.
// Reload swaps the whole map atomically so resolution never observes a
// half-written catalog.
type Catalog struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// Load reads the catalog file at path.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file, replacing the in-memory map on success
// and leaving it untouched on failure.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", c.path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", c.path, err)
	}
	if f.Channels == nil {
		f.Channels = map[string]Entry{}
	}

	c.mu.Lock()
	c.entries = f.Channels
	c.mu.Unlock()
	return nil
}

// Resolve returns the entry for a channel UUID.
func (c *Catalog) Resolve(channelID string) (Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[channelID]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	if entry.URL == "" {
		return Entry{}, fmt.Errorf("catalog: channel %s has no url", channelID)
	}
	return entry, nil
}

// Len reports how many channels the catalog knows.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
