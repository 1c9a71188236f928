package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AttributeSpec describes a column to add to a tenant collection table.
type AttributeSpec struct {
	Key      string
	Type     string
	Size     int
	Required bool
	Default  *string
	Signed   bool
	Array    bool

	Format        string
	FormatOptions map[string]interface{}
	Filters       []string
}

type IndexColumn struct {
	Key    string
	Length int
	Order  string
}

type IndexSpec struct {
	Key     string
	Type    string
	Columns []IndexColumn
}

// Client is the per-tenant schema engine. Implementations apply structural
// changes to the tenant's backing store and maintain the document cache for
// compiled collection metadata.
type Client interface {
	CreateCollection(table string) error
	DeleteCollection(table string) error

	CreateAttribute(table string, attr AttributeSpec) error
	DeleteAttribute(table string, key string) error

	CreateIndex(table string, index IndexSpec) error
	DeleteIndex(table string, key string) error

	// PurgeCachedDocument drops the cached copy of a single document within
	// the given scope, e.g. the collection document under its database scope.
	PurgeCachedDocument(scope string, documentId string) error

	// PurgeCachedCollection drops the cached compiled schema for a whole
	// collection table.
	PurgeCachedCollection(table string) error
}

func ident(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// DatabaseScope names the cache scope for documents belonging to a database.
func DatabaseScope(databaseId uuid.UUID) string {
	return fmt.Sprintf("database_%v", ident(databaseId))
}

// CollectionTable names the tenant table backing a collection.
func CollectionTable(databaseId, collectionId uuid.UUID) string {
	return fmt.Sprintf("database_%v_collection_%v", ident(databaseId), ident(collectionId))
}
