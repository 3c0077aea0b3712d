// Package labelcache is the append-only JSONL store of model classifications.
// It is loaded fully at startup and every append is flushed to disk before
// returning, so an interrupted run never pays twice for the same change.
package labelcache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"changelabel/internal/domain"
)

var ErrExists = errors.New("label cache entry already exists")

type Cache struct {
	path    string
	file    *os.File
	entries map[string]domain.CacheEntry
	skipped int
}

// Open loads the cache at path, creating it and its directory when missing.
// Malformed lines are skipped; when an id appears twice the first line wins.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	c := &Cache{
		path:    path,
		entries: make(map[string]domain.CacheEntry),
	}
	if err := c.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache for append: %w", err)
	}
	c.file = f
	log.Printf("labelcache loaded path=%s entries=%d skipped=%d", path, len(c.entries), c.skipped)
	return c, nil
}

func (c *Cache) load() error {
	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || !usable(&entry) {
			c.skipped++
			continue
		}
		if _, ok := c.entries[entry.ID]; ok {
			continue
		}
		c.entries[entry.ID] = entry
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	return nil
}

// usable reports whether a loaded line can stand in for a model call. The
// label is normalized in place.
func usable(entry *domain.CacheEntry) bool {
	if entry.ID == "" {
		return false
	}
	label, ok := domain.ParseModelLabel(string(entry.Label))
	if !ok {
		return false
	}
	if c := entry.Confidence; c != nil && (*c < 0 || *c > 1) {
		return false
	}
	entry.Label = label
	return true
}

func (c *Cache) Lookup(id string) (domain.CacheEntry, bool) {
	entry, ok := c.entries[id]
	return entry, ok
}

// Append writes entry as one line and syncs the file. Existing ids are never
// rewritten.
func (c *Cache) Append(entry domain.CacheEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("label cache entry has no id")
	}
	if !usable(&entry) {
		return fmt.Errorf("label cache entry %s: label %q or confidence not valid", entry.ID, entry.Label)
	}
	if _, ok := c.entries[entry.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, entry.ID)
	}
	if c.file == nil {
		return fmt.Errorf("label cache %s is closed", c.path)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.file.Write(data); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("sync cache: %w", err)
	}
	c.entries[entry.ID] = entry
	return nil
}

func (c *Cache) Len() int {
	return len(c.entries)
}

// Skipped is the number of malformed lines ignored while loading.
func (c *Cache) Skipped() int {
	return c.skipped
}

func (c *Cache) Path() string {
	return c.path
}

func (c *Cache) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
