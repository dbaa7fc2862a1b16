package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/chosa/internal/gateway"
)

type fakeTool struct{ name string }

func (f fakeTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{Name: f.name, Parameters: map[string]any{"type": "object"}}
}

func (f fakeTool) Execute(context.Context, map[string]any) ToolResult {
	return ToolResult{Status: StatusApplied}
}

func TestNewRegistryValidatesAtConstruction(t *testing.T) {
	tests := []struct {
		name       string
		completion string
		tools      []Tool
		wantErr    string
	}{
		{
			name:       "valid",
			completion: "done",
			tools:      []Tool{fakeTool{name: "record"}, fakeTool{name: "done"}},
		},
		{
			name:       "no tools",
			completion: "done",
			wantErr:    "at least one tool",
		},
		{
			name:       "duplicate name",
			completion: "done",
			tools:      []Tool{fakeTool{name: "record"}, fakeTool{name: "record"}, fakeTool{name: "done"}},
			wantErr:    "duplicate tool",
		},
		{
			name:       "empty name",
			completion: "done",
			tools:      []Tool{fakeTool{name: ""}, fakeTool{name: "done"}},
			wantErr:    "empty name",
		},
		{
			name:       "completion not registered",
			completion: "finish",
			tools:      []Tool{fakeTool{name: "record"}},
			wantErr:    "not registered",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.completion, tt.tools...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.completion, reg.CompletionTool())
		})
	}
}

func TestRegistrySchemasPreserveRegistrationOrder(t *testing.T) {
	reg, err := NewRegistry("done",
		fakeTool{name: "b"}, fakeTool{name: "a"}, fakeTool{name: "done"})
	require.NoError(t, err)

	var names []string
	for _, s := range reg.Schemas() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"b", "a", "done"}, names)
}

func TestArgHelpersTolerateMalformedShapes(t *testing.T) {
	args := map[string]any{
		"str":   42,
		"map":   "not a map",
		"slice": []any{"ok", 7, "also ok"},
	}
	assert.Empty(t, StringArg(args, "str"))
	assert.Nil(t, MapArg(args, "map"))
	assert.Equal(t, []string{"ok", "also ok"}, StringSliceArg(args, "slice"))
	assert.Nil(t, StringSliceArg(args, "missing"))
}
