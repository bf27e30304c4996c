package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/sweep/internal/engine"
	"github.com/picklr-io/sweep/internal/eval"
	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/provider"
	"github.com/picklr-io/sweep/internal/state"
)

const (
	defaultEntryPoint = "main.pkl"
	stateDir          = ".sweep"
	stateFile         = "state.pkl"
)

// project is a configuration directory and its entry point.
type project struct {
	dir   string
	entry string
}

// resolveProject locates the project from an optional path argument, which
// may name a directory or a PKL file.
func resolveProject(args []string) (*project, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	p := &project{dir: wd, entry: defaultEntryPoint}
	if len(args) == 0 {
		return p, nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		p.dir = absPath
	} else {
		p.dir = filepath.Dir(absPath)
		p.entry = filepath.Base(absPath)
	}
	return p, nil
}

func (p *project) evaluator() *eval.Evaluator {
	return eval.NewEvaluator(p.dir)
}

// statePath returns the local state location, honoring --state.
func (p *project) statePath() string {
	if statePath == "" {
		return filepath.Join(p.dir, stateDir, stateFile)
	}
	if filepath.IsAbs(statePath) {
		return statePath
	}
	return filepath.Join(p.dir, statePath)
}

// state opens the configured state backend.
func (p *project) state(ctx context.Context, evaluator *eval.Evaluator) (state.Backend, error) {
	cfg := &state.BackendConfig{Type: stateBackend, Config: map[string]string{}}
	for k, v := range backendConfig {
		cfg.Config[k] = v
	}
	if cfg.Type == "" || cfg.Type == "local" {
		cfg.Config["path"] = p.statePath()
	}
	return state.NewBackend(ctx, cfg, evaluator)
}

// newEngine builds an engine that resolves accounts from cfg and records
// metrics when enabled.
func newEngine(registry *provider.Registry, cfg *ir.Config) *engine.Engine {
	opts := []engine.Option{engine.WithCredentials(cfg)}
	if recorder != nil {
		opts = append(opts, engine.WithRecorder(recorder))
	}
	return engine.NewEngine(registry, opts...)
}

// loadRequiredProviders loads the providers named by declared resources and
// state entries so an unknown provider fails before planning.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config, st *ir.State) error {
	seen := make(map[string]bool)
	load := func(name string) error {
		if name == "" || seen[name] {
			return nil
		}
		seen[name] = true
		if err := registry.LoadProvider(name); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		return nil
	}

	if cfg != nil {
		for _, res := range cfg.Resources {
			if err := load(res.Provider); err != nil {
				return err
			}
		}
	}
	if st != nil {
		for _, res := range st.Resources {
			if err := load(res.Provider); err != nil {
				return err
			}
		}
	}
	return nil
}
