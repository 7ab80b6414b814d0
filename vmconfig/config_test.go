package vmconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/maggie-context/engine"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[stack]
initial_block_size = 256
max_size = 4096

[call_stack]
max_nested_calls = 16

[execution]
auto_gc = true
`
	if err := os.WriteFile(filepath.Join(dir, "context.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Stack.InitialBlockSize != 256 {
		t.Errorf("Stack.InitialBlockSize = %d, want 256", cfg.Stack.InitialBlockSize)
	}
	if cfg.Stack.MaxSize != 4096 {
		t.Errorf("Stack.MaxSize = %d, want 4096", cfg.Stack.MaxSize)
	}
	if cfg.CallStack.MaxNestedCalls != 16 {
		t.Errorf("CallStack.MaxNestedCalls = %d, want 16", cfg.CallStack.MaxNestedCalls)
	}
	if !cfg.Execution.AutoGC {
		t.Error("Execution.AutoGC = false, want true")
	}
	wantDir, err := filepath.Abs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dir != wantDir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, wantDir)
	}
}

func TestLoadConfigFillsDefaultBlockSize(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[call_stack]
max_nested_calls = 8
`
	if err := os.WriteFile(filepath.Join(dir, "context.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Stack.InitialBlockSize != 128 {
		t.Errorf("Stack.InitialBlockSize = %d, want the default of 128 when left unset", cfg.Stack.InitialBlockSize)
	}
	if cfg.CallStack.MaxNestedCalls != 8 {
		t.Errorf("CallStack.MaxNestedCalls = %d, want 8", cfg.CallStack.MaxNestedCalls)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Error("Load should fail when context.toml does not exist")
	}
}

func TestFindAndLoadWalksUpToParent(t *testing.T) {
	root := t.TempDir()
	tomlContent := "[stack]\ninitial_block_size = 512\n"
	if err := os.WriteFile(filepath.Join(root, "context.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	cfg, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if cfg.Stack.InitialBlockSize != 512 {
		t.Errorf("Stack.InitialBlockSize = %d, want 512 (found by walking up to %s)", cfg.Stack.InitialBlockSize, root)
	}
}

func TestFindAndLoadFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	want := Defaults()
	if cfg.Stack.InitialBlockSize != want.Stack.InitialBlockSize {
		t.Errorf("Stack.InitialBlockSize = %d, want the defaults' %d when no context.toml exists anywhere above startDir", cfg.Stack.InitialBlockSize, want.Stack.InitialBlockSize)
	}
}

func TestConfigNewContext(t *testing.T) {
	cfg := Config{
		Stack:     StackConfig{InitialBlockSize: 32, MaxSize: 0},
		CallStack: CallStackConfig{MaxNestedCalls: 4},
		Execution: ExecutionConfig{AutoGC: false},
	}
	ctx := cfg.NewContext(engine.Host{})
	if ctx == nil {
		t.Fatal("NewContext returned nil")
	}
}
