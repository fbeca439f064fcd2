package engine_test

import (
	"context"
	"testing"

	"github.com/mkoval/entcopy/internal/engine"
)

func TestPreStepDeletesByFilter(t *testing.T) {
	s, m := fixtureStore(t)
	m.Seed("project", "p9", map[string]any{"name": "stale", "customer_id": "c2", "region_id": nil})

	root := projectTree()
	root.PreSteps = []engine.Step{
		{DeleteFilter: map[string]string{"name": "purge_name"}},
	}
	cfg := mustConfig(t, s, root)

	res, err := engine.New(s, m, &engine.Request{
		Input: map[string]any{
			"project_id":     "p1",
			"to_customer_id": "c2",
			"purge_name":     "stale",
		},
		Config: cfg,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got reason %s", res.Reason)
	}

	if m.Get("project", "p9") != nil {
		t.Error("stale project should have been deleted before the copy")
	}
	if m.Get("project", res.Created["project"]["p1"]) == nil {
		t.Error("copy missing after pre-step run")
	}
}

func TestPostStepSeesCopies(t *testing.T) {
	s, m := fixtureStore(t)
	root := projectTree()

	var seen []*engine.CopyIntent
	root.PostSteps = []engine.Step{
		{Func: func(ctx context.Context, sc *engine.StepContext) error {
			seen = append(seen, sc.Intents...)
			return nil
		}},
	}
	cfg := mustConfig(t, s, root)

	res, err := engine.New(s, m, &engine.Request{
		Input:  map[string]any{"project_id": "p1", "to_customer_id": "c2"},
		Config: cfg,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got reason %s", res.Reason)
	}

	if len(seen) != 1 {
		t.Fatalf("expected the hook to see 1 intent, got %d", len(seen))
	}
	intent := seen[0]
	if intent.Origin.ID != "p1" {
		t.Errorf("intent origin = %s, want p1", intent.Origin.ID)
	}
	if intent.Copied == nil || intent.Copied.ID != res.Created["project"]["p1"] {
		t.Errorf("intent copied = %+v, want the created project", intent.Copied)
	}
}

func TestFailingPostStepRollsBack(t *testing.T) {
	s, m := fixtureStore(t)
	root := projectTree()
	root.PostSteps = []engine.Step{
		{Func: func(ctx context.Context, sc *engine.StepContext) error {
			return context.Canceled
		}},
	}
	cfg := mustConfig(t, s, root)

	_, err := engine.New(s, m, &engine.Request{
		Input:  map[string]any{"project_id": "p1", "to_customer_id": "c2"},
		Config: cfg,
	}).Run(context.Background())
	if err == nil {
		t.Fatal("expected the hook failure to surface")
	}
	if got := m.Count("project"); got != 2 {
		t.Errorf("project count = %d, want 2 (rolled back)", got)
	}
	if got := m.Count("project_tag"); got != 2 {
		t.Errorf("project_tag count = %d, want 2 (rolled back)", got)
	}
}
