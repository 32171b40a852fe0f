package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// symbolsFile is the on-disk format of the known-symbol set.
type symbolsFile struct {
	Symbols []string `yaml:"symbols"`
}

// SymbolService holds the known ticker symbol set used to disambiguate
// uppercase words during intent classification. The backing YAML file is
// hot-reloaded on change.
type SymbolService struct {
	mu      sync.RWMutex
	path    string
	symbols map[string]struct{}
}

// NewSymbolService loads the symbol set from path. A missing file is not an
// error: classification falls back to the session's last subject.
func NewSymbolService(path string) *SymbolService {
	s := &SymbolService{
		path:    path,
		symbols: make(map[string]struct{}),
	}

	if err := s.Reload(); err != nil {
		log.Printf("⚠️  [SYMBOLS] Could not load %s: %v (continuing with empty set)", path, err)
	}

	return s
}

// Reload re-reads the symbols file.
func (s *SymbolService) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read symbols file: %w", err)
	}

	var file symbolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse symbols YAML: %w", err)
	}

	symbols := make(map[string]struct{}, len(file.Symbols))
	for _, sym := range file.Symbols {
		symbols[sym] = struct{}{}
	}

	s.mu.Lock()
	s.symbols = symbols
	s.mu.Unlock()

	log.Printf("✅ [SYMBOLS] Loaded %d known symbols from %s", len(symbols), s.path)
	return nil
}

// Known reports whether ticker is in the known-symbol set.
func (s *SymbolService) Known(ticker string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.symbols[ticker]
	return ok
}

// Count returns the size of the symbol set.
func (s *SymbolService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// Watch reloads the symbol set whenever the file changes, until ctx is done.
func (s *SymbolService) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
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
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.Reload(); err != nil {
						log.Printf("⚠️  [SYMBOLS] Reload after change failed: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [SYMBOLS] Watcher error: %v", err)
			}
		}
	}()

	return nil
}
