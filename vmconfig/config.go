// Package vmconfig loads context.toml tuning parameters — stack block
// size, stack and call-stack limits, auto-GC — and builds a
// vm.Context from them.
package vmconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/maggie-context/engine"
	"github.com/chazu/maggie-context/vm"
)

// Config represents a context.toml configuration.
type Config struct {
	Stack     StackConfig     `toml:"stack"`
	CallStack CallStackConfig `toml:"call_stack"`
	Execution ExecutionConfig `toml:"execution"`

	// Dir is the directory containing the context.toml file (set at
	// load time).
	Dir string `toml:"-"`
}

// StackConfig configures the segmented data stack.
type StackConfig struct {
	// InitialBlockSize is the slot count of the stack's first block;
	// later blocks double in size (spec.md §4.3).
	InitialBlockSize int `toml:"initial_block_size"`
	// MaxSize caps the total slot count across all blocks. Zero means
	// unbounded.
	MaxSize int `toml:"max_size"`
}

// CallStackConfig configures the call stack.
type CallStackConfig struct {
	// MaxNestedCalls bounds host->script re-entry depth (spec.md §5).
	// Zero means unbounded.
	MaxNestedCalls int `toml:"max_nested_calls"`
}

// ExecutionConfig configures execution-loop behavior.
type ExecutionConfig struct {
	// AutoGC enables one collector step per Execute call that
	// allocated at least one new object.
	AutoGC bool `toml:"auto_gc"`
}

// Defaults returns the configuration used when no context.toml is
// found: a 128-slot initial block, no stack or nesting cap, auto-GC
// off.
func Defaults() Config {
	return Config{
		Stack:     StackConfig{InitialBlockSize: 128},
		CallStack: CallStackConfig{},
		Execution: ExecutionConfig{},
	}
}

// Load parses a context.toml file from the given directory, filling in
// defaults for anything left unset.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "context.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vmconfig: cannot read %s: %w", path, err)
	}

	cfg := Defaults()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("vmconfig: parse error in %s: %w", path, err)
	}

	cfg.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("vmconfig: cannot resolve path %s: %w", dir, err)
	}

	if cfg.Stack.InitialBlockSize == 0 {
		cfg.Stack.InitialBlockSize = 128
	}

	return &cfg, nil
}

// FindAndLoad walks up from startDir looking for a context.toml file,
// then loads and returns it. Returns Defaults() with a nil error if
// none is found anywhere above startDir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "context.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			cfg := Defaults()
			return &cfg, nil
		}
		dir = parent
	}
}

// NewContext builds a vm.Context bound to host, using cfg's stack,
// call-stack and execution settings. This is the configured source
// vm.NewContext's raw-int parameters otherwise have no construction
// path from.
func (cfg Config) NewContext(host engine.Host) *vm.Context {
	return vm.NewContext(host, cfg.Stack.InitialBlockSize, cfg.Stack.MaxSize, cfg.CallStack.MaxNestedCalls, cfg.Execution.AutoGC)
}
