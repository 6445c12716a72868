package credential

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"toolgate/internal/protocol"
	"toolgate/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// Store maps credential key names to secret values. Updates are
// single-writer; readers take snapshots.
type Store struct {
	mu       sync.RWMutex
	values   map[string]string
	subs     []func()
	filePath string
}

// NewStore creates an empty credential store.
func NewStore() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// LoadEnv imports allowlisted keys from the process environment. For each
// key both the literal name and its derived environment hint (BRAVE →
// BRAVE_API_KEY) are consulted; the literal name wins.
func (s *Store) LoadEnv(keys []string) {
	loaded := 0
	s.mu.Lock()
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			s.values[key] = v
			loaded++
			continue
		}
		if v, ok := os.LookupEnv(protocol.EnvKeyHint(key)); ok {
			s.values[key] = v
			loaded++
		}
	}
	s.mu.Unlock()

	if loaded > 0 {
		logging.Info("Credentials", "Loaded %d credentials from environment", loaded)
	}
}

// LoadFile reads KEY=value lines from path. Blank lines and lines starting
// with # are skipped. A missing file is not an error; a half-configured
// line is skipped with a warning.
func (s *Store) LoadFile(path string) error {
	s.mu.Lock()
	s.filePath = path
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debug("Credentials", "Credential file %s does not exist, skipping", path)
			return nil
		}
		return fmt.Errorf("failed to open credential file %s: %w", path, err)
	}
	defer f.Close()

	parsed := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			logging.Warn("Credentials", "Skipping malformed line %d in %s", lineNo, path)
			continue
		}
		parsed[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read credential file %s: %w", path, err)
	}

	s.mu.Lock()
	for k, v := range parsed {
		s.values[k] = v
	}
	s.mu.Unlock()

	logging.Info("Credentials", "Loaded %d credentials from %s", len(parsed), path)
	s.notify()
	return nil
}

// Watch reloads the credential file whenever it changes, until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.RLock()
	path := s.filePath
	s.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no credential file configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create credential watcher: %w", err)
	}

	// Watch the directory, not the file: editors and atomic writers replace
	// the file, which drops a direct watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				logging.Debug("Credentials", "Credential file changed, reloading")
				if err := s.LoadFile(path); err != nil {
					logging.Error("Credentials", err, "Failed to reload credential file")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Credentials", "Credential watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Has reports whether a non-empty value is present for key.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key] != ""
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok && v != ""
}

// Missing returns the subset of keys not present in the store, in input
// order.
func (s *Store) Missing(keys []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, key := range keys {
		if s.values[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Snapshot returns a copy of the current key-value map.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set stores a value and notifies subscribers.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.notify()
}

// Delete removes a key and notifies subscribers.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers a callback invoked after every store change.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// notify invokes subscribers outside the lock to avoid deadlocks with
// callbacks that read the store.
func (s *Store) notify() {
	s.mu.RLock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
