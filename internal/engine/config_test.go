package engine_test

import (
	"context"
	"testing"

	"github.com/mkoval/entcopy/internal/engine"
	"github.com/mkoval/entcopy/internal/testutil"
)

func TestConfigValidation(t *testing.T) {
	s := testutil.FixtureSchema(t)

	tests := []struct {
		name string
		root func() *engine.NodeConfig
	}{
		{
			name: "root without root filter",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.RootFilter = nil
				return node
			},
		},
		{
			name: "unknown field",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.Fields["nonexistent"] = engine.FieldCopy{Action: engine.TakeFromOrigin}
				return node
			},
		},
		{
			name: "unknown action",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.Fields["name"] = engine.FieldCopy{Action: engine.Action("mangle")}
				return node
			},
		},
		{
			name: "make_copy on a plain field",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.Fields["name"] = engine.FieldCopy{Action: engine.MakeCopy, CopyWith: &engine.NodeConfig{Type: "network"}}
				return node
			},
		},
		{
			name: "make_copy nested type disagrees with relation target",
			root: func() *engine.NodeConfig {
				node := projectTree()
				fc := node.Fields["networks"]
				fc.CopyWith = &engine.NodeConfig{Type: "device"}
				node.Fields["networks"] = fc
				return node
			},
		},
		{
			name: "take_from_input without input key",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.Fields["customer_id"] = engine.FieldCopy{Action: engine.TakeFromInput}
				return node
			},
		},
		{
			name: "set_to_filter reference target mismatch",
			root: func() *engine.NodeConfig {
				node := projectTree()
				fc := node.Fields["region"]
				fc.ReferenceTo = "customer"
				node.Fields["region"] = fc
				return node
			},
		},
		{
			name: "set_to_filter without match config",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.Fields["region"] = engine.FieldCopy{Action: engine.SetToFilter, ReferenceTo: "region"}
				return node
			},
		},
		{
			name: "set_to_filter with both match forms",
			root: func() *engine.NodeConfig {
				node := projectTree()
				fc := node.Fields["region"]
				fc.Match.Func = func(ctx context.Context, mc *engine.MatchContext) (engine.FieldRefMap, error) {
					return nil, nil
				}
				node.Fields["region"] = fc
				return node
			},
		},
		{
			name: "match field missing on target",
			root: func() *engine.NodeConfig {
				node := projectTree()
				fc := node.Fields["region"]
				fc.Match = &engine.MatchConfig{Fields: map[string]engine.FieldMatch{
					"hemisphere": {Source: engine.FromOrigin},
				}}
				node.Fields["region"] = fc
				return node
			},
		},
		{
			name: "ignore filter with unknown relation path",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.Ignore = &engine.IgnoreCondition{Filters: []engine.IgnoreFilter{
					{Path: []string{"warp"}, OriginType: "project", OriginField: "region"},
				}}
				return node
			},
		},
		{
			name: "empty hook step",
			root: func() *engine.NodeConfig {
				node := projectTree()
				node.PreSteps = []engine.Step{{}}
				return node
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.NewConfig(s, []*engine.NodeConfig{tt.root()})
			assertConfigError(t, err)
		})
	}
}

func TestConfigValidationAccepts(t *testing.T) {
	s := testutil.FixtureSchema(t)
	if _, err := engine.NewConfig(s, []*engine.NodeConfig{projectTree()}); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}
}
