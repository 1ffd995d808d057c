package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"vodstream/searchservice/internal/domain"
)

var ErrRuntimeStoreUnavailable = fmt.Errorf("%w: runtime source store is not configured", domain.ErrReadOnlyConfig)

// DefaultFilterWords are category labels suppressed when the content filter
// is on and the config file does not list its own.
var DefaultFilterWords = []string{"伦理片", "福利", "写真", "情色", "成人", "里番"}

const defaultCacheTime = 7200 * time.Second

type Defaults struct {
	MaxPages      int
	FilterEnabled bool
	CacheTime     time.Duration
}

type Config struct {
	Path     string
	Defaults Defaults
	Store    RuntimeStore
	Logger   *slog.Logger
}

// Provider serves configuration snapshots built from the JSON config file
// with runtime overrides from the store applied on top. The file is re-read
// whenever its modification time changes.
type Provider struct {
	path     string
	defaults Defaults
	store    RuntimeStore
	logger   *slog.Logger

	mu      sync.Mutex
	file    fileConfig
	modTime time.Time
	loaded  bool
}

type fileConfig struct {
	sources       []domain.Source
	maxPages      int
	filterEnabled bool
	filterWords   []string
	cacheTime     time.Duration
	bannedUsers   []string
}

func NewProvider(cfg Config) *Provider {
	defaults := cfg.Defaults
	if defaults.MaxPages <= 0 {
		defaults.MaxPages = 5
	}
	if defaults.CacheTime <= 0 {
		defaults.CacheTime = defaultCacheTime
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		path:     strings.TrimSpace(cfg.Path),
		defaults: defaults,
		store:    cfg.Store,
		logger:   logger,
	}
}

func (p *Provider) Snapshot(ctx context.Context) (domain.ConfigSnapshot, error) {
	file, err := p.loadFile()
	if err != nil {
		return domain.ConfigSnapshot{}, err
	}

	sources := append([]domain.Source(nil), file.sources...)
	if p.store != nil {
		states, err := p.store.Load(ctx)
		if err != nil {
			p.logger.Warn("runtime source state unavailable", slog.String("error", err.Error()))
		}
		for i := range sources {
			if state, ok := states[sources[i].Key]; ok {
				sources[i].Disabled = state.Disabled
			}
		}
	}

	return domain.ConfigSnapshot{
		Sources:       sources,
		MaxPages:      file.maxPages,
		FilterEnabled: file.filterEnabled,
		FilterWords:   append([]string(nil), file.filterWords...),
		CacheTime:     file.cacheTime,
		BannedUsers:   append([]string(nil), file.bannedUsers...),
	}, nil
}

// Patch stores a runtime override for one source. A nil Disabled clears the
// override so the file value applies again.
func (p *Provider) Patch(ctx context.Context, patch domain.SourcePatch) (domain.Source, error) {
	if p.store == nil {
		return domain.Source{}, ErrRuntimeStoreUnavailable
	}
	file, err := p.loadFile()
	if err != nil {
		return domain.Source{}, err
	}
	key := strings.TrimSpace(patch.Key)
	source, ok := lo.Find(file.sources, func(item domain.Source) bool { return item.Key == key })
	if !ok {
		return domain.Source{}, fmt.Errorf("%w: %s", domain.ErrUnknownSource, key)
	}

	if patch.Disabled == nil {
		if err := p.store.Delete(ctx, key); err != nil {
			return domain.Source{}, fmt.Errorf("clear runtime state: %w", err)
		}
		return source, nil
	}
	if err := p.store.Save(ctx, key, RuntimeSourceState{Disabled: *patch.Disabled}); err != nil {
		return domain.Source{}, fmt.Errorf("save runtime state: %w", err)
	}
	source.Disabled = *patch.Disabled
	return source, nil
}

func (p *Provider) loadFile() (fileConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.path == "" {
		return fileConfig{}, errors.New("config file path is empty")
	}
	info, err := os.Stat(p.path)
	if err != nil {
		if p.loaded {
			p.logger.Warn("config file unavailable, serving last good copy", slog.String("error", err.Error()))
			return p.file, nil
		}
		return fileConfig{}, fmt.Errorf("stat config file: %w", err)
	}
	if p.loaded && info.ModTime().Equal(p.modTime) {
		return p.file, nil
	}

	payload, err := os.ReadFile(p.path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	file, err := parseFileConfig(payload, p.defaults)
	if err != nil {
		if p.loaded {
			p.logger.Warn("config file invalid, serving last good copy", slog.String("error", err.Error()))
			return p.file, nil
		}
		return fileConfig{}, err
	}

	p.file = file
	p.modTime = info.ModTime()
	p.loaded = true
	p.logger.Info("source config loaded",
		slog.String("path", p.path),
		slog.Int("sources", len(file.sources)),
	)
	return file, nil
}

// parseFileConfig reads the config document. api_site is an object keyed by
// source key; its members keep document order, which is also the order
// sources are queried and suggestions are drawn from.
func parseFileConfig(payload []byte, defaults Defaults) (fileConfig, error) {
	if !gjson.ValidBytes(payload) {
		return fileConfig{}, errors.New("config file is not valid JSON")
	}
	doc := gjson.ParseBytes(payload)

	sites := doc.Get("api_site")
	if !sites.IsObject() {
		return fileConfig{}, errors.New("config file has no api_site object")
	}

	var sources []domain.Source
	sites.ForEach(func(key, value gjson.Result) bool {
		sourceKey := strings.TrimSpace(key.String())
		api := strings.TrimSpace(value.Get("api").String())
		if sourceKey == "" || api == "" {
			return true
		}
		name := strings.TrimSpace(value.Get("name").String())
		if name == "" {
			name = sourceKey
		}
		sources = append(sources, domain.Source{
			Key:        sourceKey,
			Name:       name,
			API:        api,
			DetailPage: strings.TrimSpace(value.Get("detail").String()),
			Disabled:   value.Get("disabled").Bool(),
		})
		return true
	})

	cfg := fileConfig{
		sources:       lo.UniqBy(sources, func(source domain.Source) string { return source.Key }),
		maxPages:      defaults.MaxPages,
		filterEnabled: defaults.FilterEnabled,
		filterWords:   DefaultFilterWords,
		cacheTime:     defaults.CacheTime,
	}
	if value := doc.Get("cache_time"); value.Exists() && value.Int() > 0 {
		cfg.cacheTime = time.Duration(value.Int()) * time.Second
	}
	if value := doc.Get("max_pages"); value.Exists() && value.Int() > 0 {
		cfg.maxPages = int(value.Int())
	}
	if value := doc.Get("disable_content_filter"); value.Exists() {
		cfg.filterEnabled = !value.Bool()
	}
	if words := stringList(doc.Get("content_filter_words")); len(words) > 0 {
		cfg.filterWords = words
	}
	cfg.bannedUsers = stringList(doc.Get("banned_users"))
	return cfg, nil
}

func stringList(value gjson.Result) []string {
	if !value.IsArray() {
		return nil
	}
	var out []string
	for _, item := range value.Array() {
		if text := strings.TrimSpace(item.String()); text != "" {
			out = append(out, text)
		}
	}
	return lo.Uniq(out)
}
