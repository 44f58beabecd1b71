package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		problem string
	}{
		{name: "select", query: "SELECT e.id AS _id FROM episodes e LIMIT 10"},
		{name: "cte", query: "WITH recent AS (SELECT * FROM episodes) SELECT id AS _id FROM recent"},
		{name: "trailing semicolon", query: "SELECT id FROM topics;"},
		{name: "keyword inside literal", query: "SELECT id FROM episodes WHERE title LIKE '%delete it''s%'"},
		{name: "replace function", query: "SELECT replace(title, 'a', 'b') FROM episodes"},
		{name: "empty", query: "  ", problem: "query is empty"},
		{name: "two statements", query: "SELECT 1; SELECT 2", problem: "multiple statements are not allowed"},
		{name: "insert", query: "INSERT INTO topics VALUES ('x', 'x', 'x')", problem: "only SELECT queries are allowed"},
		{name: "delete in cte", query: "WITH x AS (DELETE FROM topics) SELECT 1", problem: "DELETE statements are not allowed"},
		{name: "pragma", query: "PRAGMA table_info(episodes)", problem: "only SELECT queries are allowed"},
		{name: "internal table", query: "SELECT * FROM turns", problem: "table turns is not part of the corpus schema"},
		{name: "internal join", query: "SELECT * FROM episodes e JOIN \"sessions\" s ON 1", problem: "table sessions is not part of the corpus schema"},
		{name: "sqlite master", query: "SELECT name FROM sqlite_master", problem: "table sqlite_master is not part of the corpus schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := CheckReadOnly(tt.query)
			if tt.problem == "" {
				assert.Empty(t, problems)
				return
			}
			assert.Contains(t, problems, tt.problem)
		})
	}
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "SELECT 1", NormalizeQuery("  SELECT 1 ;\n"))
	assert.Equal(t, "SELECT 1", NormalizeQuery("SELECT 1"))
}

func TestIsInternalTable(t *testing.T) {
	assert.True(t, IsInternalTable("turn_context"))
	assert.True(t, IsInternalTable("sqlite_sequence"))
	assert.True(t, IsInternalTable("GOOSE_DB_VERSION"))
	assert.False(t, IsInternalTable("episodes"))
}
