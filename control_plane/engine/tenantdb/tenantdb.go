package tenantdb

import (
	"fmt"
	"log/slog"
	"strings"

	"corebase/control_plane/engine"

	"gorm.io/gorm"
)

// TenantDB applies schema mutations directly to the tenant's relational
// backing store. One instance serves one tenant namespace; the worker selects
// the instance by project.
type TenantDB struct {
	db    *gorm.DB
	cache *documentCache
}

func NewTenantDB(db *gorm.DB) *TenantDB {
	return &TenantDB{db: db, cache: newDocumentCache()}
}

func columnType(attr engine.AttributeSpec) string {
	if attr.Array {
		// Array values are stored json encoded regardless of element type.
		return "TEXT"
	}

	switch attr.Type {
	case "boolean":
		return "BOOLEAN"
	case "integer":
		return "BIGINT"
	case "double":
		return "REAL"
	case "datetime":
		return "TIMESTAMP"
	case "string", "email", "url", "ip", "enum":
		if attr.Size > 0 && attr.Size <= 16383 {
			return fmt.Sprintf("VARCHAR(%d)", attr.Size)
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (t *TenantDB) CreateCollection(table string) error {
	statement := fmt.Sprintf("CREATE TABLE %q (id VARCHAR(36) PRIMARY KEY)", table)

	if err := t.db.Exec(statement).Error; err != nil {
		slog.Error("sql error creating collection table", "table", table, "error", err)
		return fmt.Errorf("error creating collection table %v: %w", table, err)
	}

	return nil
}

func (t *TenantDB) DeleteCollection(table string) error {
	statement := fmt.Sprintf("DROP TABLE IF EXISTS %q", table)

	if err := t.db.Exec(statement).Error; err != nil {
		slog.Error("sql error dropping collection table", "table", table, "error", err)
		return fmt.Errorf("error dropping collection table %v: %w", table, err)
	}

	t.cache.purgeScope(table)

	return nil
}

func (t *TenantDB) CreateAttribute(table string, attr engine.AttributeSpec) error {
	definition := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %q %v", table, attr.Key, columnType(attr))
	if attr.Default != nil {
		definition += fmt.Sprintf(" DEFAULT '%v'", strings.ReplaceAll(*attr.Default, "'", "''"))
		if attr.Required {
			definition += " NOT NULL"
		}
	}

	if err := t.db.Exec(definition).Error; err != nil {
		slog.Error("sql error adding attribute column", "table", table, "key", attr.Key, "error", err)
		return fmt.Errorf("error creating attribute %v on %v: %w", attr.Key, table, err)
	}

	return nil
}

func (t *TenantDB) DeleteAttribute(table string, key string) error {
	statement := fmt.Sprintf("ALTER TABLE %q DROP COLUMN %q", table, key)

	if err := t.db.Exec(statement).Error; err != nil {
		slog.Error("sql error dropping attribute column", "table", table, "key", key, "error", err)
		return fmt.Errorf("error deleting attribute %v on %v: %w", key, table, err)
	}

	return nil
}

func indexName(table, key string) string {
	return fmt.Sprintf("idx_%v_%v", table, key)
}

func (t *TenantDB) CreateIndex(table string, index engine.IndexSpec) error {
	unique := ""
	if index.Type == "unique" {
		unique = "UNIQUE "
	}

	// Per-column prefix lengths are a storage detail of engines that support
	// them; relational backends index the full column.
	columns := make([]string, 0, len(index.Columns))
	for _, col := range index.Columns {
		order := "ASC"
		if strings.EqualFold(col.Order, "DESC") {
			order = "DESC"
		}
		columns = append(columns, fmt.Sprintf("%q %v", col.Key, order))
	}

	statement := fmt.Sprintf(
		"CREATE %vINDEX %q ON %q (%v)",
		unique, indexName(table, index.Key), table, strings.Join(columns, ", "),
	)

	if err := t.db.Exec(statement).Error; err != nil {
		slog.Error("sql error creating index", "table", table, "key", index.Key, "error", err)
		return fmt.Errorf("error creating index %v on %v: %w", index.Key, table, err)
	}

	return nil
}

func (t *TenantDB) DeleteIndex(table string, key string) error {
	statement := fmt.Sprintf("DROP INDEX %q", indexName(table, key))

	if err := t.db.Exec(statement).Error; err != nil {
		slog.Error("sql error dropping index", "table", table, "key", key, "error", err)
		return fmt.Errorf("error deleting index %v on %v: %w", key, table, err)
	}

	return nil
}

func (t *TenantDB) PurgeCachedDocument(scope string, documentId string) error {
	t.cache.purge(scope, documentId)
	return nil
}

func (t *TenantDB) PurgeCachedCollection(table string) error {
	t.cache.purgeScope(table)
	return nil
}

// CacheDocument stores a serialized document under the given scope. Reads of
// hot control plane documents go through this cache; the worker purges entries
// after every schema mutation.
func (t *TenantDB) CacheDocument(scope, documentId string, doc []byte) {
	t.cache.put(scope, documentId, doc)
}

func (t *TenantDB) CachedDocument(scope, documentId string) ([]byte, bool) {
	return t.cache.get(scope, documentId)
}
