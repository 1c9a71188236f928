package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Attribute and index rows move through these statuses. A row that is not
// available or deleting must never be treated as queryable by tenant reads.
const (
	StatusProcessing = "processing"
	StatusAvailable  = "available"
	StatusDeleting   = "deleting"
	StatusFailed     = "failed"
	StatusStuck      = "stuck"
)

const (
	ResourceTypeFunction = "function"

	DeploymentTypeVcs = "vcs"
)

type Project struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name      string `gorm:"size:100;not null"`
	Namespace string `gorm:"size:100;not null"`

	CreatedAt time.Time
}

type Database struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:100;not null"`

	ProjectId uuid.UUID `gorm:"type:uuid;not null;index"`
	Project   *Project

	Collections []Collection `gorm:"constraint:OnDelete:CASCADE"`
}

type Collection struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:100;not null"`

	DatabaseId uuid.UUID `gorm:"type:uuid;not null;index"`
	Database   *Database

	Attributes []Attribute `gorm:"constraint:OnDelete:CASCADE"`
	Indexes    []Index     `gorm:"constraint:OnDelete:CASCADE"`
}

type Attribute struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatabaseId   uuid.UUID `gorm:"type:uuid;not null;index"`
	CollectionId uuid.UUID `gorm:"type:uuid;not null;index"`
	Collection   *Collection

	Key      string  `gorm:"size:100;not null"`
	Type     string  `gorm:"size:50;not null"`
	Size     int     `gorm:"not null;default:0"`
	Required bool    `gorm:"not null;default:false"`
	Default  *string `gorm:"size:500"`
	Signed   bool    `gorm:"not null;default:true"`
	Array    bool    `gorm:"not null;default:false"`

	Format        string                       `gorm:"size:50"`
	FormatOptions datatypes.JSONMap
	Filters       datatypes.JSONSlice[string]

	Status string `gorm:"size:20;not null"`
}

// IndexColumn keeps the attribute key and its per-key prefix length and sort
// order in a single record so the three values cannot drift out of alignment.
type IndexColumn struct {
	Key    string `json:"key"`
	Length int    `json:"length"`
	Order  string `json:"order"`
}

type Index struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatabaseId   uuid.UUID `gorm:"type:uuid;not null;index"`
	CollectionId uuid.UUID `gorm:"type:uuid;not null;index"`
	Collection   *Collection

	Key  string `gorm:"size:100;not null"`
	Type string `gorm:"size:50;not null"`

	Columns datatypes.JSONSlice[IndexColumn]

	Status string `gorm:"size:20;not null"`
}

// Signature identifies an index by its attribute keys and sort orders.
// Two indexes on the same collection with equal signatures are duplicates.
// Parts are quoted so keys containing separator characters cannot collide
// with a differently shaped column list.
func (i *Index) Signature() string {
	parts := make([]string, 0, len(i.Columns))
	for _, col := range i.Columns {
		parts = append(parts, fmt.Sprintf("%q:%q", col.Key, col.Order))
	}
	return strings.Join(parts, ",")
}

type Installation struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Identifier assigned by the source control provider for the app install.
	InstallationId string `gorm:"size:256;not null;index"`
	Provider       string `gorm:"size:50;not null"`

	ProjectId uuid.UUID `gorm:"type:uuid;not null;index"`
	Project   *Project

	RepoLinks []RepoLink `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

// RepoLink binds an external repository to a platform resource. Several links
// may share one repository id, one per resource bound to the repo.
type RepoLink struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	InstallationId uuid.UUID `gorm:"type:uuid;not null;index"`
	Installation   *Installation

	ProjectId uuid.UUID `gorm:"type:uuid;not null"`

	RepositoryId string    `gorm:"size:256;not null;index"`
	ResourceId   uuid.UUID `gorm:"type:uuid;not null"`
	ResourceType string    `gorm:"size:50;not null"`
}

type Function struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:100;not null"`

	ProjectId uuid.UUID `gorm:"type:uuid;not null;index"`
	Project   *Project

	Entrypoint       string `gorm:"size:256;not null;default:'index.js'"`
	ProductionBranch string `gorm:"size:256;not null;default:'main'"`
}

// Deployment is an immutable build request record.
type Deployment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ResourceId   uuid.UUID `gorm:"type:uuid;not null;index"`
	ResourceType string    `gorm:"size:50;not null"`

	Type       string `gorm:"size:50;not null"`
	Entrypoint string `gorm:"size:256;not null"`
	Branch     string `gorm:"size:256;not null"`

	InstallationId uuid.UUID `gorm:"type:uuid;not null"`
	RepoLinkId     uuid.UUID `gorm:"type:uuid;not null"`

	Activate bool `gorm:"not null;default:false"`

	CreatedAt time.Time
}
