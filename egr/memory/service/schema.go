package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

// TableInfo describes one corpus table.
type TableInfo struct {
	Name        string
	Columns     []ColumnInfo
	ForeignKeys []ForeignKey
}

// ColumnInfo is a column name and its declared type.
type ColumnInfo struct {
	Name string
	Type string
	PK   bool
}

// ForeignKey links a column to the id of another table.
type ForeignKey struct {
	Column   string
	RefTable string
	RefCol   string
}

// IsRelationship reports whether the table only links other tables.
func (t TableInfo) IsRelationship() bool {
	if len(t.ForeignKeys) < 2 {
		return false
	}
	for _, c := range t.Columns {
		if c.Name == "id" {
			return false
		}
	}
	return true
}

// SchemaDescriptorProvider introspects the corpus tables and caches the
// rendered description for a TTL. Concurrent callers share one refresh and
// stop waiting when their own context ends.
type SchemaDescriptorProvider struct {
	db             *sql.DB
	ttl            time.Duration
	refreshTimeout time.Duration
	logger         zerolog.Logger

	group      singleflight.Group
	introspect func(context.Context) ([]TableInfo, error)

	mu        sync.RWMutex
	snapshot  string
	fetchedAt time.Time
	now       func() time.Time
}

const schemaRefreshKey = "schema"

// NewSchemaDescriptorProvider creates a provider whose snapshot is refreshed
// after ttl.
func NewSchemaDescriptorProvider(conn *sql.DB, ttl time.Duration, logger zerolog.Logger) *SchemaDescriptorProvider {
	p := &SchemaDescriptorProvider{
		db:             conn,
		ttl:            ttl,
		refreshTimeout: 30 * time.Second,
		logger:         logger.With().Str("component", "schema").Logger(),
		now:            time.Now,
	}
	p.introspect = p.Tables
	return p
}

// Schema returns the cached schema description, refreshing it when stale.
func (p *SchemaDescriptorProvider) Schema(ctx context.Context) (string, error) {
	if snapshot, ok := p.fresh(); ok {
		return snapshot, nil
	}

	ch := p.group.DoChan(schemaRefreshKey, func() (any, error) {
		return p.refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (p *SchemaDescriptorProvider) fresh() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot != "" && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.snapshot, true
	}
	return "", false
}

// refresh runs detached from the caller that started it, since other callers
// may be waiting on the same result.
func (p *SchemaDescriptorProvider) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
	defer cancel()

	tables, err := p.introspect(ctx)
	if err != nil {
		p.mu.RLock()
		stale := p.snapshot
		p.mu.RUnlock()
		if stale != "" {
			// serve the stale snapshot rather than failing the request
			p.logger.Warn().Err(err).Msg("schema refresh failed, using stale snapshot")
			return stale, nil
		}
		return "", err
	}

	snapshot := RenderSchema(tables)
	p.mu.Lock()
	p.snapshot = snapshot
	p.fetchedAt = p.now()
	p.mu.Unlock()
	p.logger.Debug().Int("tables", len(tables)).Msg("schema refreshed")
	return snapshot, nil
}

// Invalidate drops the cached snapshot.
func (p *SchemaDescriptorProvider) Invalidate() {
	p.mu.Lock()
	p.snapshot = ""
	p.mu.Unlock()
	p.group.Forget(schemaRefreshKey)
}

// Tables introspects every corpus table, one goroutine per table.
func (p *SchemaDescriptorProvider) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if !IsInternalTable(name) {
			names = append(names, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pl := pool.NewWithResults[TableInfo]().WithContext(ctx).WithMaxGoroutines(4)
	for _, name := range names {
		pl.Go(func(ctx context.Context) (TableInfo, error) {
			return p.describe(ctx, name)
		})
	}
	tables, err := pl.Wait()
	if err != nil {
		return nil, err
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

func (p *SchemaDescriptorProvider) describe(ctx context.Context, table string) (TableInfo, error) {
	info := TableInfo{Name: table}

	cols, err := p.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return info, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	for cols.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := cols.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			cols.Close()
			return info, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		info.Columns = append(info.Columns, ColumnInfo{Name: name, Type: strings.ToUpper(typ), PK: pk > 0})
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return info, err
	}

	fks, err := p.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return info, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	defer fks.Close()
	for fks.Next() {
		var (
			id, seq               int
			refTable, from        string
			to                    sql.NullString
			onUpdate, onDel, mtch string
		)
		if err := fks.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDel, &mtch); err != nil {
			return info, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		ref := "id"
		if to.Valid && to.String != "" {
			ref = to.String
		}
		info.ForeignKeys = append(info.ForeignKeys, ForeignKey{Column: from, RefTable: refTable, RefCol: ref})
	}
	return info, fks.Err()
}

// RenderSchema formats tables as the descriptor handed to query generation.
// Binary columns are omitted since generated queries never select them.
func RenderSchema(tables []TableInfo) string {
	var entities, relations, links []string

	for _, t := range tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			if c.Type == "BLOB" {
				continue
			}
			col := c.Name + " " + c.Type
			if c.PK && c.Name == "id" {
				col += " PRIMARY KEY"
			}
			cols = append(cols, col)
		}
		line := fmt.Sprintf("- %s(%s)", t.Name, strings.Join(cols, ", "))

		if t.IsRelationship() {
			refs := make([]string, 0, len(t.ForeignKeys))
			for _, fk := range t.ForeignKeys {
				refs = append(refs, fmt.Sprintf("%s.%s -> %s.%s", t.Name, fk.Column, fk.RefTable, fk.RefCol))
			}
			relations = append(relations, line+"  links "+strings.Join(refs, ", "))
			continue
		}

		entities = append(entities, line)
		for _, fk := range t.ForeignKeys {
			links = append(links, fmt.Sprintf("- %s.%s -> %s.%s", t.Name, fk.Column, fk.RefTable, fk.RefCol))
		}
	}

	var b strings.Builder
	b.WriteString("Entity tables:\n")
	b.WriteString(strings.Join(entities, "\n"))
	b.WriteString("\n\nRelationship tables:\n")
	b.WriteString(strings.Join(relations, "\n"))
	if len(links) > 0 {
		b.WriteString("\n\nReferences:\n")
		b.WriteString(strings.Join(links, "\n"))
	}
	return b.String()
}

var _ SchemaProvider = (*SchemaDescriptorProvider)(nil)
