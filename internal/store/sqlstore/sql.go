package sqlstore

import (
	"fmt"
	"strings"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// sqlBuilder translates a predicate into a WHERE fragment plus bound args.
// Relation paths become nested EXISTS subqueries; each subquery level gets
// its own alias so self-referencing types join cleanly.
type sqlBuilder struct {
	schema *schema.Schema
	args   []any
	aliasN int
}

func (b *sqlBuilder) pred(typeName, alias string, p query.Pred) (string, error) {
	switch p := p.(type) {
	case query.Eq:
		if p.Value == nil {
			return b.column(alias, p.Field) + " IS NULL", nil
		}
		b.args = append(b.args, p.Value)
		return b.column(alias, p.Field) + " = ?", nil

	case query.In:
		return b.inClause(b.column(alias, p.Field), p.IDs), nil

	case query.IsNull:
		return b.column(alias, p.Field) + " IS NULL", nil

	case query.HasRel:
		return b.path(typeName, alias, p.Path, p.IDs)

	case query.NoRel:
		return b.noRel(typeName, alias, p.Rel)

	case query.And:
		return b.members(typeName, alias, p, " AND ", "1=1")

	case query.Or:
		return b.members(typeName, alias, p, " OR ", "0=1")

	case query.Not:
		if p.P == nil {
			return "0=1", nil
		}
		inner, err := b.pred(typeName, alias, p.P)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}
	return "", fmt.Errorf("sqlstore: unsupported predicate %T", p)
}

func (b *sqlBuilder) members(typeName, alias string, ps []query.Pred, sep, empty string) (string, error) {
	parts := make([]string, 0, len(ps))
	for _, member := range ps {
		if member == nil {
			continue
		}
		part, err := b.pred(typeName, alias, member)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+part+")")
	}
	if len(parts) == 0 {
		return empty, nil
	}
	return strings.Join(parts, sep), nil
}

// path builds the EXISTS chain for a relation path. The innermost level
// constrains the reached entity's id.
func (b *sqlBuilder) path(typeName, alias string, path []string, ids []string) (string, error) {
	if len(path) == 0 {
		return b.inClause(alias+".id", ids), nil
	}

	et, err := b.schema.Type(typeName)
	if err != nil {
		return "", err
	}
	rel := et.Relation(path[0])
	if rel == nil {
		return "", fmt.Errorf("sqlstore: no relation %q on %s", path[0], typeName)
	}

	target := b.schema.MustType(rel.Target)
	next := b.nextAlias()

	switch rel.Kind {
	case schema.ToOne:
		rest, err := b.path(rel.Target, next, path[1:], ids)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s.id = %s AND %s)",
			target.TableName(), next, next, b.column(alias, rel.FKField), rest), nil

	case schema.ToManyOwned:
		rest, err := b.path(rel.Target, next, path[1:], ids)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s.%s = %s.id AND %s)",
			target.TableName(), next, next, rel.FKField, alias, rest), nil

	case schema.ToManyShared:
		link := b.nextAlias()
		rest, err := b.path(rel.Target, next, path[1:], ids)
		if err != nil {
			return "", err
		}
		junction := b.schema.MustType(rel.Junction.Type)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s JOIN %s %s ON %s.id = %s.%s WHERE %s.%s = %s.id AND %s)",
			junction.TableName(), link, target.TableName(), next,
			next, link, rel.Junction.ToField,
			link, rel.Junction.FromField, alias, rest), nil
	}
	return "", fmt.Errorf("sqlstore: unknown relation kind %q", rel.Kind)
}

// noRel matches entities with nothing reachable through the relation,
// dangling foreign keys included.
func (b *sqlBuilder) noRel(typeName, alias, relName string) (string, error) {
	et, err := b.schema.Type(typeName)
	if err != nil {
		return "", err
	}
	rel := et.Relation(relName)
	if rel == nil {
		return "", fmt.Errorf("sqlstore: no relation %q on %s", relName, typeName)
	}

	target := b.schema.MustType(rel.Target)
	next := b.nextAlias()

	switch rel.Kind {
	case schema.ToOne:
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s %s WHERE %s.id = %s)",
			target.TableName(), next, next, b.column(alias, rel.FKField)), nil

	case schema.ToManyOwned:
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s %s WHERE %s.%s = %s.id)",
			target.TableName(), next, next, rel.FKField, alias), nil

	case schema.ToManyShared:
		link := b.nextAlias()
		junction := b.schema.MustType(rel.Junction.Type)
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s %s JOIN %s %s ON %s.id = %s.%s WHERE %s.%s = %s.id)",
			junction.TableName(), link, target.TableName(), next,
			next, link, rel.Junction.ToField,
			link, rel.Junction.FromField, alias), nil
	}
	return "", fmt.Errorf("sqlstore: unknown relation kind %q", rel.Kind)
}

// inClause renders an IN over bound args. An empty id list matches nothing.
func (b *sqlBuilder) inClause(column string, ids []string) string {
	if len(ids) == 0 {
		return "0=1"
	}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		b.args = append(b.args, id)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

func (b *sqlBuilder) column(alias, field string) string {
	return alias + "." + field
}

func (b *sqlBuilder) nextAlias() string {
	b.aliasN++
	return fmt.Sprintf("t%d", b.aliasN)
}
