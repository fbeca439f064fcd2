package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/store"
	"github.com/mkoval/entcopy/internal/store/memstore"
	"github.com/mkoval/entcopy/internal/testutil"
)

func seeded(t *testing.T) *memstore.Mem {
	t.Helper()
	m := memstore.New(testutil.FixtureSchema(t))

	m.Seed("customer", "c1", map[string]any{"name": "acme"})
	m.Seed("project", "p1", map[string]any{"name": "alpha", "customer_id": "c1", "region_id": "r1"})
	m.Seed("project", "p2", map[string]any{"name": "beta", "customer_id": "c1", "region_id": nil})
	m.Seed("region", "r1", map[string]any{"code": "eu", "name": "Europe", "customer_id": "c1"})
	m.Seed("network", "n1", map[string]any{"name": "core", "project_id": "p1"})
	m.Seed("network", "n2", map[string]any{"name": "edge", "project_id": "p1"})
	m.Seed("tag", "t1", map[string]any{"label": "prod", "customer_id": "c1"})
	m.Seed("project_tag", "l1", map[string]any{"project_id": "p1", "tag_id": "t1"})
	return m
}

func ids(t *testing.T, m *memstore.Mem, typeName string, p query.Pred) []string {
	t.Helper()
	got, err := m.Select(context.Background(), typeName, p)
	if err != nil {
		t.Fatalf("Select %s: %v", typeName, err)
	}
	var out []string
	for _, e := range got {
		out = append(out, e.ID)
	}
	return out
}

func TestSelectSortsByID(t *testing.T) {
	m := seeded(t)
	got := ids(t, m, "network", nil)
	want := []string{"n1", "n2"}
	testutil.AssertEqual(t, want, got)
}

func TestSelectCloning(t *testing.T) {
	m := seeded(t)
	got, err := m.Select(context.Background(), "project", query.Eq{Field: "id", Value: "p1"})
	testutil.AssertNoError(t, err)
	got[0].Fields["name"] = "mutated"

	if name := m.Get("project", "p1").Fields["name"]; name != "alpha" {
		t.Errorf("stored name = %v, want alpha (results must be copies)", name)
	}
}

func TestSelectUnknownType(t *testing.T) {
	m := seeded(t)
	_, err := m.Select(context.Background(), "widget", nil)
	testutil.AssertError(t, err)
}

func TestPredicates(t *testing.T) {
	m := seeded(t)

	tests := []struct {
		name     string
		typeName string
		pred     query.Pred
		want     []string
	}{
		{"eq on field", "project", query.Eq{Field: "name", Value: "alpha"}, []string{"p1"}},
		{"eq on id", "project", query.Eq{Field: "id", Value: "p2"}, []string{"p2"}},
		{"eq nil matches null", "project", query.Eq{Field: "region_id", Value: nil}, []string{"p2"}},
		{"in", "network", query.In{Field: "id", IDs: []string{"n2", "n9"}}, []string{"n2"}},
		{"in on fk", "network", query.In{Field: "project_id", IDs: []string{"p1"}}, []string{"n1", "n2"}},
		{"empty in matches nothing", "network", query.In{Field: "id", IDs: nil}, nil},
		{"is null", "project", query.IsNull{Field: "region_id"}, []string{"p2"}},
		{"not", "project", query.Not{P: query.Eq{Field: "name", Value: "alpha"}}, []string{"p2"}},
		{"and", "project", query.And{
			query.Eq{Field: "customer_id", Value: "c1"},
			query.Eq{Field: "name", Value: "beta"},
		}, []string{"p2"}},
		{"or", "network", query.Or{
			query.Eq{Field: "name", Value: "core"},
			query.Eq{Field: "name", Value: "edge"},
		}, []string{"n1", "n2"}},
		{"and skips nil members", "project", query.And{nil, query.Eq{Field: "id", Value: "p1"}}, []string{"p1"}},
		{"has rel to-one", "project", query.HasRel{Path: []string{"region"}, IDs: []string{"r1"}}, []string{"p1"}},
		{"has rel owned", "project", query.HasRel{Path: []string{"networks"}, IDs: []string{"n2"}}, []string{"p1"}},
		{"has rel shared", "project", query.HasRel{Path: []string{"tags"}, IDs: []string{"t1"}}, []string{"p1"}},
		{"has rel from region", "region", query.HasRel{Path: []string{"customer"}, IDs: []string{"c1"}}, []string{"r1"}},
		{"has rel empty path matches own id", "project", query.HasRel{Path: nil, IDs: []string{"p2"}}, []string{"p2"}},
		{"no rel", "project", query.NoRel{Rel: "region"}, []string{"p2"}},
		{"no rel with members", "project", query.NoRel{Rel: "networks"}, []string{"p2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, ids(t, m, tt.typeName, tt.pred))
		})
	}
}

func TestNoRelIgnoresDanglingReference(t *testing.T) {
	m := seeded(t)
	m.Seed("project", "p3", map[string]any{"name": "gamma", "customer_id": "c1", "region_id": "r-gone"})

	got := ids(t, m, "project", query.NoRel{Rel: "region"})
	testutil.AssertEqual(t, []string{"p2", "p3"}, got)
}

func TestEvalUnknownRelation(t *testing.T) {
	m := seeded(t)
	_, err := m.Select(context.Background(), "project", query.HasRel{Path: []string{"warp"}, IDs: []string{"x"}})
	testutil.AssertError(t, err)
}

func TestNumericEquality(t *testing.T) {
	m := seeded(t)
	m.Seed("device", "d1", map[string]any{"name": "fw", "network_id": "n1", "port": 22})

	got := ids(t, m, "device", query.Eq{Field: "port", Value: float64(22)})
	testutil.AssertEqual(t, []string{"d1"}, got)
}

func TestBulkCreateGeneratesIDs(t *testing.T) {
	m := seeded(t)
	n := 0
	m.SetIDFunc(func() string { n++; return []string{"x1", "x2"}[n-1] })

	created, err := m.BulkCreate(context.Background(), "network", []map[string]any{
		{"name": "dmz", "project_id": "p2"},
		{"name": "lab", "project_id": "p2"},
	})
	testutil.AssertNoError(t, err)
	if len(created) != 2 || created[0].ID != "x1" || created[1].ID != "x2" {
		t.Fatalf("created = %+v", created)
	}
	if got := m.Count("network"); got != 4 {
		t.Errorf("network count = %d, want 4", got)
	}
	if name := m.Get("network", "x2").Fields["name"]; name != "lab" {
		t.Errorf("x2 name = %v, want lab", name)
	}
}

func TestDelete(t *testing.T) {
	m := seeded(t)
	err := m.Delete(context.Background(), "network", query.Eq{Field: "project_id", Value: "p1"})
	testutil.AssertNoError(t, err)
	if got := m.Count("network"); got != 0 {
		t.Errorf("network count = %d, want 0", got)
	}
	if got := m.Count("project"); got != 2 {
		t.Errorf("project count = %d, want 2 (other types untouched)", got)
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	m := seeded(t)
	boom := errors.New("boom")

	err := m.Atomic(context.Background(), func(tx store.Store) error {
		if _, err := tx.BulkCreate(context.Background(), "network", []map[string]any{
			{"name": "doomed", "project_id": "p1"},
		}); err != nil {
			return err
		}
		if err := tx.Delete(context.Background(), "project_tag", nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := m.Count("network"); got != 2 {
		t.Errorf("network count = %d, want 2 after rollback", got)
	}
	if got := m.Count("project_tag"); got != 1 {
		t.Errorf("project_tag count = %d, want 1 after rollback", got)
	}
}

func TestAtomicCommits(t *testing.T) {
	m := seeded(t)
	err := m.Atomic(context.Background(), func(tx store.Store) error {
		_, err := tx.BulkCreate(context.Background(), "tag", []map[string]any{
			{"label": "staging", "customer_id": "c1"},
		})
		return err
	})
	testutil.AssertNoError(t, err)
	if got := m.Count("tag"); got != 2 {
		t.Errorf("tag count = %d, want 2", got)
	}
}

func TestNestedAtomicJoinsOuterScope(t *testing.T) {
	m := seeded(t)
	boom := errors.New("boom")

	err := m.Atomic(context.Background(), func(tx store.Store) error {
		if _, err := tx.BulkCreate(context.Background(), "tag", []map[string]any{
			{"label": "outer", "customer_id": "c1"},
		}); err != nil {
			return err
		}
		return tx.Atomic(context.Background(), func(inner store.Store) error {
			if _, err := inner.BulkCreate(context.Background(), "tag", []map[string]any{
				{"label": "inner", "customer_id": "c1"},
			}); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := m.Count("tag"); got != 1 {
		t.Errorf("tag count = %d, want 1 (whole scope rolled back)", got)
	}
}
