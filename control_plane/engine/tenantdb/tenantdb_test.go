package tenantdb

import (
	"testing"

	"corebase/control_plane/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupEngine(t *testing.T) *TenantDB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	return NewTenantDB(db)
}

func TestCollectionAndAttributeLifecycle(t *testing.T) {
	eng := setupEngine(t)

	require.NoError(t, eng.CreateCollection("books"))

	title := engine.AttributeSpec{Key: "title", Type: "string", Size: 100}
	require.NoError(t, eng.CreateAttribute("books", title))

	pages := engine.AttributeSpec{Key: "pages", Type: "integer"}
	require.NoError(t, eng.CreateAttribute("books", pages))

	require.NoError(t, eng.DeleteAttribute("books", "pages"))

	// Dropping a column that no longer exists surfaces as an engine error,
	// which the worker records as a stuck row.
	assert.Error(t, eng.DeleteAttribute("books", "pages"))

	require.NoError(t, eng.DeleteCollection("books"))
	require.NoError(t, eng.DeleteCollection("books"))
}

func TestDuplicateAttributeRejected(t *testing.T) {
	eng := setupEngine(t)

	require.NoError(t, eng.CreateCollection("books"))

	title := engine.AttributeSpec{Key: "title", Type: "string", Size: 100}
	require.NoError(t, eng.CreateAttribute("books", title))
	assert.Error(t, eng.CreateAttribute("books", title))
}

func TestIndexLifecycle(t *testing.T) {
	eng := setupEngine(t)

	require.NoError(t, eng.CreateCollection("books"))
	require.NoError(t, eng.CreateAttribute("books", engine.AttributeSpec{Key: "title", Type: "string", Size: 100}))
	require.NoError(t, eng.CreateAttribute("books", engine.AttributeSpec{Key: "year", Type: "integer"}))

	idx := engine.IndexSpec{
		Key:  "idx_title_year",
		Type: "key",
		Columns: []engine.IndexColumn{
			{Key: "title", Order: "ASC"},
			{Key: "year", Order: "DESC"},
		},
	}
	require.NoError(t, eng.CreateIndex("books", idx))

	unique := engine.IndexSpec{
		Key:     "uniq_title",
		Type:    "unique",
		Columns: []engine.IndexColumn{{Key: "title", Order: "ASC"}},
	}
	require.NoError(t, eng.CreateIndex("books", unique))

	require.NoError(t, eng.DeleteIndex("books", "idx_title_year"))
	assert.Error(t, eng.DeleteIndex("books", "idx_title_year"))
}

func TestColumnTypes(t *testing.T) {
	assert.Equal(t, "BOOLEAN", columnType(engine.AttributeSpec{Type: "boolean"}))
	assert.Equal(t, "BIGINT", columnType(engine.AttributeSpec{Type: "integer"}))
	assert.Equal(t, "REAL", columnType(engine.AttributeSpec{Type: "double"}))
	assert.Equal(t, "TIMESTAMP", columnType(engine.AttributeSpec{Type: "datetime"}))
	assert.Equal(t, "VARCHAR(256)", columnType(engine.AttributeSpec{Type: "string", Size: 256}))
	assert.Equal(t, "VARCHAR(100)", columnType(engine.AttributeSpec{Type: "email", Size: 100}))
	assert.Equal(t, "TEXT", columnType(engine.AttributeSpec{Type: "string", Size: 65536}))
	assert.Equal(t, "TEXT", columnType(engine.AttributeSpec{Type: "string"}))
	// Arrays are json encoded whatever the element type is.
	assert.Equal(t, "TEXT", columnType(engine.AttributeSpec{Type: "integer", Array: true}))
}

func TestDocumentCache(t *testing.T) {
	eng := setupEngine(t)

	eng.CacheDocument("database_1", "col1", []byte("schema-a"))
	eng.CacheDocument("database_1", "col2", []byte("schema-b"))

	doc, ok := eng.CachedDocument("database_1", "col1")
	require.True(t, ok)
	assert.Equal(t, []byte("schema-a"), doc)

	require.NoError(t, eng.PurgeCachedDocument("database_1", "col1"))
	_, ok = eng.CachedDocument("database_1", "col1")
	assert.False(t, ok)

	_, ok = eng.CachedDocument("database_1", "col2")
	assert.True(t, ok)

	require.NoError(t, eng.PurgeCachedCollection("database_1"))
	_, ok = eng.CachedDocument("database_1", "col2")
	assert.False(t, ok)

	// Purging entries that were never cached is a no-op.
	require.NoError(t, eng.PurgeCachedDocument("database_9", "col9"))
}
