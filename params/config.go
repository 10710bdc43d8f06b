// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

// Package params holds the validator configuration surface, loaded from
// TOML (github.com/naoina/toml) and hot-reloadable via fsnotify.
package params

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/naoina/toml"

	"github.com/bitcraps/bitcraps/log"
)

// WalFsyncMode selects when the WAL is fsync'd.
type WalFsyncMode string

const (
	FsyncPerCommit     WalFsyncMode = "PerCommit"
	FsyncPerCheckpoint WalFsyncMode = "PerCheckpoint"
)

// Config is the full configuration surface All fields are
// optional; Default() fills in the documented defaults.
type Config struct {
	PipelineDepth         int           `toml:"pipeline_depth"`
	BatchSize             int           `toml:"batch_size"`
	BaseTimeoutMS         int           `toml:"base_timeout_ms"`
	ViewChangeBackoff     float64       `toml:"view_change_backoff"`
	CommitWindowMS        int           `toml:"commit_window_ms"`
	RevealWindowMS        int           `toml:"reveal_window_ms"`
	CheckpointInterval    uint64        `toml:"checkpoint_interval"`
	QueueCapacityConsensus int          `toml:"queue_capacity_consensus"`
	WalFsyncMode          WalFsyncMode  `toml:"wal_fsync_mode"`

	DataDir string `toml:"data_dir"`
}

// Default returns the configuration surface's documented defaults.
func Default() *Config {
	return &Config{
		PipelineDepth:          8,
		BatchSize:              2000,
		BaseTimeoutMS:          500,
		ViewChangeBackoff:      2.0,
		CommitWindowMS:         1200,
		RevealWindowMS:         1200,
		CheckpointInterval:     100,
		QueueCapacityConsensus: 4096,
		WalFsyncMode:           FsyncPerCommit,
		DataDir:                "./data",
	}
}

func (c *Config) BaseTimeout() time.Duration {
	return time.Duration(c.BaseTimeoutMS) * time.Millisecond
}

func (c *Config) CommitWindow() time.Duration {
	return time.Duration(c.CommitWindowMS) * time.Millisecond
}

func (c *Config) RevealWindow() time.Duration {
	return time.Duration(c.RevealWindowMS) * time.Millisecond
}

// Validate enforces the documented bounds ("pipeline_depth ... max 64").
func (c *Config) Validate() error {
	if c.PipelineDepth <= 0 || c.PipelineDepth > 64 {
		return fmt.Errorf("params: pipeline_depth must be in [1,64], got %d", c.PipelineDepth)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("params: batch_size must be positive")
	}
	if c.BaseTimeoutMS <= 0 {
		return fmt.Errorf("params: base_timeout_ms must be positive")
	}
	if c.ViewChangeBackoff < 1.0 {
		return fmt.Errorf("params: view_change_backoff must be >= 1.0")
	}
	if c.CheckpointInterval == 0 {
		return fmt.Errorf("params: checkpoint_interval must be positive")
	}
	if c.QueueCapacityConsensus <= 0 {
		return fmt.Errorf("params: queue_capacity_consensus must be positive")
	}
	switch c.WalFsyncMode {
	case FsyncPerCommit, FsyncPerCheckpoint:
	default:
		return fmt.Errorf("params: unknown wal_fsync_mode %q", c.WalFsyncMode)
	}
	return nil
}

// Load reads a TOML config file, merging it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("params: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("params: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watcher hot-reloads a Config from disk on change, notifying subscribers.
// Only the non-safety-critical surface (logging, queue capacities observed
// on next restart) is intended to be tuned live; pipeline_depth and
// wal_fsync_mode changes are logged but require a restart to take effect.
type Watcher struct {
	mu      sync.RWMutex
	cfg     *Config
	path    string
	watcher *fsnotify.Watcher
	subs    []chan *Config
}

func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{cfg: cfg, path: path, watcher: fw}
	go w.loop()
	return w, nil
}

func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warn("params: reload failed", "path", w.path, "error", err)
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			subs := append([]chan *Config{}, w.subs...)
			w.mu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- cfg:
				default:
				}
			}
			log.Info("params: config reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("params: watcher error", "error", err)
		}
	}
}

func (w *Watcher) Close() error { return w.watcher.Close() }
