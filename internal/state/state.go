package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/picklr-io/sweep/internal/eval"
	"github.com/picklr-io/sweep/internal/ir"
)

// Manager reads and writes state in a local PKL file.
type Manager struct {
	path      string
	evaluator *eval.Evaluator
}

func NewManager(path string, evaluator *eval.Evaluator) *Manager {
	return &Manager{
		path:      path,
		evaluator: evaluator,
	}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Read loads the state from the configured path. A missing file yields an
// empty state.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return &ir.State{Version: 1}, nil
	}

	state, err := m.evaluator.LoadState(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return normalizeState(state), nil
}

// Write saves the state to the configured path.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content := []byte(SerializeState(state))

	// Write through a temp file so a crash never leaves a truncated state.
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

// parseState evaluates PKL state content that does not live on disk.
func parseState(ctx context.Context, evaluator *eval.Evaluator, content []byte) (*ir.State, error) {
	tmpFile, err := os.CreateTemp("", "sweep-state-*.pkl")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, err
	}

	state, err := evaluator.LoadState(ctx, tmpFile.Name())
	if err != nil {
		return nil, err
	}
	return normalizeState(state), nil
}

// SerializeState renders a State as a standalone PKL module. A lineage is
// assigned on first write. Keys are sorted so unchanged state serializes
// identically.
func SerializeState(state *ir.State) string {
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	if state.Version == 0 {
		state.Version = 1
	}

	var b strings.Builder

	fmt.Fprintf(&b, "// sweep state file, managed by sweep\n")
	fmt.Fprintf(&b, "version = %d\n", state.Version)
	fmt.Fprintf(&b, "serial = %d\n", state.Serial)
	fmt.Fprintf(&b, "lineage = %q\n\n", state.Lineage)

	fmt.Fprintf(&b, "outputs = %s\n\n", serializePklValue(state.Outputs, 0))

	if len(state.Resources) == 0 {
		fmt.Fprintf(&b, "resources = new Listing {}\n")
		return b.String()
	}

	fmt.Fprintf(&b, "resources = new Listing {\n")
	for _, res := range state.Resources {
		fmt.Fprintf(&b, "  new {\n")
		fmt.Fprintf(&b, "    type = %q\n", res.Type)
		fmt.Fprintf(&b, "    name = %q\n", res.Name)
		fmt.Fprintf(&b, "    provider = %q\n", res.Provider)
		fmt.Fprintf(&b, "    inputs = %s\n", serializePklValue(res.Inputs, 2))
		fmt.Fprintf(&b, "    outputs = %s\n", serializePklValue(res.Outputs, 2))
		deps := make([]any, len(res.Dependencies))
		for i, d := range res.Dependencies {
			deps[i] = d
		}
		fmt.Fprintf(&b, "    dependencies = %s\n", serializePklValue(deps, 2))
		fmt.Fprintf(&b, "  }\n")
	}
	fmt.Fprintf(&b, "}\n")

	return b.String()
}

// serializePklValue recursively serializes a Go value to PKL syntax.
func serializePklValue(v any, indentLevel int) string {
	indent := strings.Repeat("  ", indentLevel)

	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return "null"
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return serializePklValue(m, indentLevel)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[fmt.Sprint(k)] = e
		}
		return serializePklValue(m, indentLevel)
	case map[string]any:
		if len(val) == 0 {
			return "new Mapping {}"
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString("new Mapping {\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s  [%q] = %s\n", indent, k, serializePklValue(val[k], indentLevel+1))
		}
		b.WriteString(indent + "}")
		return b.String()
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return serializePklValue(list, indentLevel)
	case []any:
		if len(val) == 0 {
			return "new Listing {}"
		}
		var b strings.Builder
		b.WriteString("new Listing {\n")
		for _, e := range val {
			fmt.Fprintf(&b, "%s  %s\n", indent, serializePklValue(e, indentLevel+1))
		}
		b.WriteString(indent + "}")
		return b.String()
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", val))
	}
}

// normalizeState converts decoded PKL mappings to map[string]any so state
// values marshal to JSON.
func normalizeState(state *ir.State) *ir.State {
	state.Outputs = normalizeMap(state.Outputs)
	for _, res := range state.Resources {
		res.Inputs = normalizeMap(res.Inputs)
		res.Outputs = normalizeMap(res.Outputs)
	}
	return state
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
