// Package config loads and live-reloads .sprint.yml, the project-level
// configuration file. Loading is viper-backed; reload detection follows the
// debounced fsnotify pattern used throughout this codebase for watching a
// single file rather than a tree.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/model"
	"teamclaude/internal/sprint/telemetry"
)

// Telemetry groups the optional metrics/tracing sections of .sprint.yml.
type Telemetry struct {
	Metrics telemetry.MetricsConfig `mapstructure:"metrics"`
	Tracing telemetry.TracingConfig `mapstructure:"tracing"`
}

// Notifications describes webhook delivery configuration.
type Notifications struct {
	Webhook string            `mapstructure:"webhook"`
	Events  []string          `mapstructure:"events"`
	Headers map[string]string `mapstructure:"headers"`
}

// Agents describes the agent-model defaults read from .sprint.yml.
type Agents struct {
	Model string   `mapstructure:"model"`
	Roles []string `mapstructure:"roles"`
}

// Sprint holds sprint-scoped tunables: token budget limits in both raw
// token count and dollar terms.
type Sprint struct {
	TokenBudget    int64   `mapstructure:"token_budget"`
	TokenBudgetUSD float64 `mapstructure:"token_budget_usd"`
}

// Server holds the control API's listen configuration.
type Server struct {
	Port int `mapstructure:"port"`
}

// Recording toggles replay-recorder attachment.
type Recording struct {
	Enabled bool `mapstructure:"enabled"`
}

// VerifyCommand is one configured external check: name plus a shell
// command string run via "sh -c".
type VerifyCommand struct {
	Name string `mapstructure:"name"`
	Run  string `mapstructure:"run"`
}

// Verification holds the external check commands the verification gate
// runs for both per-task and cycle/sprint scopes.
type Verification struct {
	Commands []VerifyCommand `mapstructure:"commands"`
}

// Config is the root .sprint.yml shape.
type Config struct {
	Server        Server        `mapstructure:"server"`
	Recording     Recording     `mapstructure:"recording"`
	Sprint        Sprint        `mapstructure:"sprint"`
	Agents        Agents        `mapstructure:"agents"`
	Notifications Notifications `mapstructure:"notifications"`
	Plugins       []string      `mapstructure:"plugins"`
	Telemetry     Telemetry     `mapstructure:"telemetry"`
	Verification  Verification  `mapstructure:"verification"`
}

// BudgetConfig projects Config's sprint settings onto the model.BudgetConfig
// shape the budget tracker caches. Returns a nil pointer if no limit is set.
func (c Config) BudgetConfig() *model.BudgetConfig {
	bc := model.BudgetConfig{TokenLimit: c.Sprint.TokenBudget, DollarLimit: c.Sprint.TokenBudgetUSD}
	if !bc.HasLimit() {
		return nil
	}
	return &bc
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.port", 4851)
	v.SetDefault("recording.enabled", false)
	v.SetDefault("agents.model", "sonnet")
	v.SetDefault("telemetry.metrics.enabled", false)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.tracing.enabled", false)
	v.SetDefault("telemetry.tracing.exporter", "jaeger")
	v.SetDefault("telemetry.tracing.sample_rate", 1.0)
	v.SetDefault("telemetry.tracing.service_name", "sprintd")
}

// Load reads path (typically <project>/.sprint.yml) into a Config. A
// missing file produces a zero-valued Config with defaults applied, not an
// error, since .sprint.yml is optional.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	defaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := v.Unmarshal(&cfg); err != nil {
				return Config{}, err
			}
			return cfg, nil
		}
		if strings.Contains(err.Error(), "no such file") {
			if err := v.Unmarshal(&cfg); err != nil {
				return Config{}, err
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}

// Watcher reloads Config from a single file on fsnotify write events,
// debouncing bursts the way teacher's per-tree RuntimeConfigWatcher does,
// adapted here to a single path instead of a directory tree.
type Watcher struct {
	path   string
	logger logging.Logger
	onLoad func(Config)

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	debounce *time.Timer
	stopCh   chan struct{}
}

// NewWatcher constructs a Watcher for path. onLoad is invoked with every
// successfully (re)loaded Config, including the initial load performed by
// Start.
func NewWatcher(path string, logger logging.Logger, onLoad func(Config)) *Watcher {
	return &Watcher{path: path, logger: logging.OrNop(logger), onLoad: onLoad}
}

// Start performs the initial load and begins watching for changes.
func (w *Watcher) Start() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.onLoad(cfg)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	dir := parentDir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	go w.watchLoop()
	return nil
}

// Stop tears down the underlying fsnotify watcher and cancels any pending
// debounce timer.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	stopCh := w.stopCh
	fsw := w.fsw
	w.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if fsw != nil {
		_ = fsw.Close()
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(300*time.Millisecond, func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn("config reload failed: %v", err)
			return
		}
		w.onLoad(cfg)
	})
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
