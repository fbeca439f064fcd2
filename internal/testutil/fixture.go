package testutil

import (
	"testing"

	"github.com/mkoval/entcopy/internal/schema"
)

// FixtureSchema builds the network-inventory schema most tests run against:
// customers own projects, projects own networks, networks own devices;
// projects point at a shared region catalog and carry tags through a
// junction; reports reference a project and optionally a device.
func FixtureSchema(t *testing.T) *schema.Schema {
	t.Helper()

	s, err := schema.New([]schema.TypeDef{
		{
			Name:   "customer",
			Fields: []string{"name"},
		},
		{
			Name:   "region",
			Fields: []string{"code", "name", "customer_id"},
			Relations: []schema.Relation{
				{Name: "customer", Kind: schema.ToOne, Target: "customer", FKField: "customer_id"},
			},
		},
		{
			Name:   "project",
			Fields: []string{"name", "customer_id", "region_id"},
			Relations: []schema.Relation{
				{Name: "customer", Kind: schema.ToOne, Target: "customer", FKField: "customer_id"},
				{Name: "region", Kind: schema.ToOne, Target: "region", FKField: "region_id", Nullable: true},
				{Name: "networks", Kind: schema.ToManyOwned, Target: "network", FKField: "project_id"},
				{Name: "tags", Kind: schema.ToManyShared, Target: "tag", Junction: &schema.Junction{
					Type: "project_tag", FromField: "project_id", ToField: "tag_id",
				}},
			},
		},
		{
			Name:   "network",
			Fields: []string{"name", "project_id"},
			Relations: []schema.Relation{
				{Name: "project", Kind: schema.ToOne, Target: "project", FKField: "project_id"},
				{Name: "devices", Kind: schema.ToManyOwned, Target: "device", FKField: "network_id"},
			},
		},
		{
			Name:   "device",
			Fields: []string{"name", "network_id"},
			Relations: []schema.Relation{
				{Name: "network", Kind: schema.ToOne, Target: "network", FKField: "network_id"},
			},
		},
		{
			Name:   "tag",
			Fields: []string{"label", "customer_id"},
			Relations: []schema.Relation{
				{Name: "customer", Kind: schema.ToOne, Target: "customer", FKField: "customer_id"},
			},
		},
		{
			Name:   "project_tag",
			Fields: []string{"project_id", "tag_id"},
			Relations: []schema.Relation{
				{Name: "project", Kind: schema.ToOne, Target: "project", FKField: "project_id"},
				{Name: "tag", Kind: schema.ToOne, Target: "tag", FKField: "tag_id"},
			},
		},
		{
			Name:   "report",
			Fields: []string{"title", "project_id", "device_id"},
			Relations: []schema.Relation{
				{Name: "project", Kind: schema.ToOne, Target: "project", FKField: "project_id"},
				{Name: "device", Kind: schema.ToOne, Target: "device", FKField: "device_id", Nullable: true},
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to build fixture schema: %v", err)
	}
	return s
}
