package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/store"
	"github.com/mkoval/entcopy/internal/store/sqlstore"
	"github.com/mkoval/entcopy/internal/testutil"
)

func seededDB(t *testing.T) *sqlstore.DB {
	t.Helper()
	db := testutil.TempDB(t, testutil.FixtureSchema(t))

	ctx := context.Background()
	seed := func(typeName, id string, fields map[string]any) {
		t.Helper()
		db.SetIDFunc(func() string { return id })
		if _, err := db.BulkCreate(ctx, typeName, []map[string]any{fields}); err != nil {
			t.Fatalf("seed %s %s: %v", typeName, id, err)
		}
	}

	seed("customer", "c1", map[string]any{"name": "acme"})
	seed("region", "r1", map[string]any{"code": "eu", "name": "Europe", "customer_id": "c1"})
	seed("project", "p1", map[string]any{"name": "alpha", "customer_id": "c1", "region_id": "r1"})
	seed("project", "p2", map[string]any{"name": "beta", "customer_id": "c1", "region_id": nil})
	seed("network", "n1", map[string]any{"name": "core", "project_id": "p1"})
	seed("network", "n2", map[string]any{"name": "edge", "project_id": "p1"})
	seed("tag", "t1", map[string]any{"label": "prod", "customer_id": "c1"})
	seed("project_tag", "l1", map[string]any{"project_id": "p1", "tag_id": "t1"})
	return db
}

func selectIDs(t *testing.T, s store.Store, typeName string, p query.Pred) []string {
	t.Helper()
	got, err := s.Select(context.Background(), typeName, p)
	if err != nil {
		t.Fatalf("Select %s: %v", typeName, err)
	}
	out := make([]string, len(got))
	for i, e := range got {
		out[i] = e.ID
	}
	return out
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	db := seededDB(t)
	testutil.AssertNoError(t, db.EnsureSchema(context.Background()))
	testutil.AssertEqual(t, []string{"p1", "p2"}, selectIDs(t, db, "project", nil))
}

func TestSelectOrdersByID(t *testing.T) {
	db := seededDB(t)
	testutil.AssertEqual(t, []string{"n1", "n2"}, selectIDs(t, db, "network", nil))
}

func TestSelectReadsNullAsNil(t *testing.T) {
	db := seededDB(t)
	got, err := db.Select(context.Background(), "project", query.Eq{Field: "id", Value: "p2"})
	testutil.AssertNoError(t, err)
	if len(got) != 1 {
		t.Fatalf("got %d projects, want 1", len(got))
	}
	if v, ok := got[0].Fields["region_id"]; !ok || v != nil {
		t.Errorf("region_id = %v (present %v), want nil", v, ok)
	}
	if got[0].Fields["name"] != "beta" {
		t.Errorf("name = %v, want beta", got[0].Fields["name"])
	}
}

func TestPredicateTranslation(t *testing.T) {
	db := seededDB(t)

	tests := []struct {
		name     string
		typeName string
		pred     query.Pred
		want     []string
	}{
		{"eq", "project", query.Eq{Field: "name", Value: "alpha"}, []string{"p1"}},
		{"eq on id", "project", query.Eq{Field: "id", Value: "p2"}, []string{"p2"}},
		{"eq nil is null", "project", query.Eq{Field: "region_id", Value: nil}, []string{"p2"}},
		{"in", "network", query.In{Field: "id", IDs: []string{"n2", "n9"}}, []string{"n2"}},
		{"empty in", "network", query.In{Field: "id", IDs: nil}, []string{}},
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
		{"empty and matches all", "project", query.And{}, []string{"p1", "p2"}},
		{"empty or matches none", "project", query.Or{}, []string{}},
		{"has rel to-one", "project", query.HasRel{Path: []string{"region"}, IDs: []string{"r1"}}, []string{"p1"}},
		{"has rel owned", "project", query.HasRel{Path: []string{"networks"}, IDs: []string{"n2"}}, []string{"p1"}},
		{"has rel shared", "project", query.HasRel{Path: []string{"tags"}, IDs: []string{"t1"}}, []string{"p1"}},
		{"has rel two hops", "network", query.HasRel{Path: []string{"project", "region"}, IDs: []string{"r1"}}, []string{"n1", "n2"}},
		{"has rel empty path", "project", query.HasRel{Path: nil, IDs: []string{"p2"}}, []string{"p2"}},
		{"no rel to-one", "project", query.NoRel{Rel: "region"}, []string{"p2"}},
		{"no rel owned", "project", query.NoRel{Rel: "networks"}, []string{"p2"}},
		{"no rel shared", "project", query.NoRel{Rel: "tags"}, []string{"p2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectIDs(t, db, tt.typeName, tt.pred)
			if len(tt.want) == 0 && len(got) == 0 {
				return
			}
			testutil.AssertEqual(t, tt.want, got)
		})
	}
}

func TestBulkCreateRejectsUnknownColumn(t *testing.T) {
	db := seededDB(t)
	_, err := db.BulkCreate(context.Background(), "network", []map[string]any{
		{"name": "dmz", "project_id": "p1", "vlan": 40},
	})
	testutil.AssertError(t, err)
}

func TestBulkCreateGeneratesDistinctIDs(t *testing.T) {
	db := seededDB(t)
	n := 0
	db.SetIDFunc(func() string { n++; return fmt.Sprintf("gen-%d", n) })

	created, err := db.BulkCreate(context.Background(), "tag", []map[string]any{
		{"label": "staging", "customer_id": "c1"},
		{"label": "test", "customer_id": "c1"},
	})
	testutil.AssertNoError(t, err)
	if len(created) != 2 || created[0].ID != "gen-1" || created[1].ID != "gen-2" {
		t.Fatalf("created = %+v", created)
	}
	testutil.AssertEqual(t, []string{"gen-1"}, selectIDs(t, db, "tag", query.Eq{Field: "label", Value: "staging"}))
}

func TestDeleteByPredicate(t *testing.T) {
	db := seededDB(t)
	err := db.Delete(context.Background(), "network", query.Eq{Field: "name", Value: "core"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, []string{"n2"}, selectIDs(t, db, "network", nil))
}

func TestAtomicRollsBack(t *testing.T) {
	db := seededDB(t)
	boom := errors.New("boom")

	err := db.Atomic(context.Background(), func(tx store.Store) error {
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
	testutil.AssertEqual(t, []string{"n1", "n2"}, selectIDs(t, db, "network", nil))
	testutil.AssertEqual(t, []string{"l1"}, selectIDs(t, db, "project_tag", nil))
}

func TestAtomicCommits(t *testing.T) {
	db := seededDB(t)
	db.SetIDFunc(func() string { return "n3" })

	err := db.Atomic(context.Background(), func(tx store.Store) error {
		_, err := tx.BulkCreate(context.Background(), "network", []map[string]any{
			{"name": "dmz", "project_id": "p2"},
		})
		return err
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, []string{"n1", "n2", "n3"}, selectIDs(t, db, "network", nil))
}

func TestNestedAtomicJoins(t *testing.T) {
	db := seededDB(t)
	boom := errors.New("boom")

	err := db.Atomic(context.Background(), func(tx store.Store) error {
		if err := tx.Delete(context.Background(), "project_tag", nil); err != nil {
			return err
		}
		return tx.Atomic(context.Background(), func(inner store.Store) error {
			if err := inner.Delete(context.Background(), "network", nil); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	testutil.AssertEqual(t, []string{"l1"}, selectIDs(t, db, "project_tag", nil))
	testutil.AssertEqual(t, []string{"n1", "n2"}, selectIDs(t, db, "network", nil))
}

func TestReopenSeesCommittedData(t *testing.T) {
	db := seededDB(t)
	path := db.Path()
	s := testutil.FixtureSchema(t)
	testutil.AssertNoError(t, db.Close())

	reopened, err := sqlstore.Open(path, s)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	testutil.AssertEqual(t, []string{"p1", "p2"}, selectIDs(t, reopened, "project", nil))
}
