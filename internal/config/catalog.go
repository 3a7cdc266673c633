package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

type catalogFile struct {
	Providers []model.ProviderConfig `yaml:"providers"`
}

// DefaultCatalog is the provider catalog used when no catalog file is configured
func DefaultCatalog() []model.ProviderConfig {
	return []model.ProviderConfig{
		{
			Name:       "openai",
			Priority:   8,
			RateLimits: model.RateLimitConfig{RequestsPerMinute: 500, RequestsPerHour: 10000},
			Models: map[string]model.ModelSpec{
				"gpt-4o":      {CostPer1K: 0.005, Capabilities: []string{"writing", "reasoning", "analysis"}, ContextWindow: 128000, Quality: 0.9},
				"gpt-4o-mini": {CostPer1K: 0.0006, Capabilities: []string{"writing", "editing"}, ContextWindow: 128000, Quality: 0.75},
			},
		},
		{
			Name:       "anthropic",
			Priority:   8,
			RateLimits: model.RateLimitConfig{RequestsPerMinute: 300, RequestsPerHour: 6000},
			Models: map[string]model.ModelSpec{
				"claude-3-5-sonnet": {CostPer1K: 0.003, Capabilities: []string{"writing", "research", "analysis"}, ContextWindow: 200000, Quality: 0.9},
				"claude-3-haiku":    {CostPer1K: 0.00025, Capabilities: []string{"writing", "editing"}, ContextWindow: 200000, Quality: 0.7},
			},
		},
		{
			Name:       "google",
			Priority:   6,
			RateLimits: model.RateLimitConfig{RequestsPerMinute: 300},
			Models: map[string]model.ModelSpec{
				"gemini-1.5-pro": {CostPer1K: 0.0035, Capabilities: []string{"writing", "research"}, ContextWindow: 1000000, Quality: 0.85},
			},
		},
	}
}

// ParseCatalog decodes a YAML document with a top-level providers list
func ParseCatalog(data []byte) ([]model.ProviderConfig, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(f.Providers) == 0 {
		return nil, errors.New("catalog lists no providers")
	}
	seen := make(map[string]struct{}, len(f.Providers))
	for i, p := range f.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("providers[%d]: name is required", i)
		}
		if len(p.Models) == 0 {
			return nil, fmt.Errorf("provider %s: at least one model is required", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("provider %s: duplicate entry", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return f.Providers, nil
}

// LoadCatalog reads a catalog file; an empty path yields DefaultCatalog
func LoadCatalog(path string) ([]model.ProviderConfig, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// CatalogWatcher reloads a catalog file whenever it is written or replaced
type CatalogWatcher struct {
	path    string
	onLoad  func([]model.ProviderConfig)
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
	exited  chan struct{}
}

// WatchCatalog watches the directory holding path so editors that replace the
// file are still seen. onLoad receives every successfully parsed catalog.
func WatchCatalog(path string, onLoad func([]model.ProviderConfig), logger *zap.Logger) (*CatalogWatcher, error) {
	if path == "" {
		return nil, errors.New("catalog path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving catalog path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &CatalogWatcher{
		path:    abs,
		onLoad:  onLoad,
		watcher: watcher,
		logger:  logger.Named("catalog-watcher"),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go w.loop()

	w.logger.Info("Watching provider catalog", zap.String("path", abs))
	return w, nil
}

func (w *CatalogWatcher) loop() {
	defer close(w.exited)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Catalog watcher error", zap.Error(err))
		}
	}
}

func (w *CatalogWatcher) reload() {
	providers, err := LoadCatalog(w.path)
	if err != nil {
		// a half-written file fails to parse; the following write event retries
		w.logger.Warn("Ignoring unreadable catalog", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("Provider catalog reloaded", zap.Int("providers", len(providers)))
	w.onLoad(providers)
}

// Close stops watching and waits for the event loop to exit
func (w *CatalogWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	err := w.watcher.Close()
	<-w.exited
	return err
}
