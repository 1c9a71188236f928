package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrProjectNotFound      = errors.New("project not found")
	ErrDatabaseNotFound     = errors.New("database not found")
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrAttributeNotFound    = errors.New("attribute not found")
	ErrIndexNotFound        = errors.New("index not found")
	ErrFunctionNotFound     = errors.New("function not found")
	ErrInstallationNotFound = errors.New("installation not found")
	ErrDbAccessFailed       = errors.New("db access failed")
)

func GetProject(projectId uuid.UUID, db *gorm.DB) (Project, error) {
	var project Project

	result := db.First(&project, "id = ?", projectId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return project, ErrProjectNotFound
		}
		slog.Error("sql error in get project", "project_id", projectId, "error", result.Error)
		return project, ErrDbAccessFailed
	}

	return project, nil
}

func GetDatabase(databaseId uuid.UUID, db *gorm.DB) (Database, error) {
	var database Database

	result := db.First(&database, "id = ?", databaseId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return database, ErrDatabaseNotFound
		}
		slog.Error("sql error in get database", "database_id", databaseId, "error", result.Error)
		return database, ErrDbAccessFailed
	}

	return database, nil
}

func GetCollection(collectionId uuid.UUID, db *gorm.DB) (Collection, error) {
	var collection Collection

	result := db.First(&collection, "id = ?", collectionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return collection, ErrCollectionNotFound
		}
		slog.Error("sql error in get collection", "collection_id", collectionId, "error", result.Error)
		return collection, ErrDbAccessFailed
	}

	return collection, nil
}

func GetAttribute(attributeId uuid.UUID, db *gorm.DB) (Attribute, error) {
	var attribute Attribute

	result := db.First(&attribute, "id = ?", attributeId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return attribute, ErrAttributeNotFound
		}
		slog.Error("sql error in get attribute", "attribute_id", attributeId, "error", result.Error)
		return attribute, ErrDbAccessFailed
	}

	return attribute, nil
}

func GetIndex(indexId uuid.UUID, db *gorm.DB) (Index, error) {
	var index Index

	result := db.First(&index, "id = ?", indexId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return index, ErrIndexNotFound
		}
		slog.Error("sql error in get index", "index_id", indexId, "error", result.Error)
		return index, ErrDbAccessFailed
	}

	return index, nil
}

func ListCollectionIndexes(collectionId uuid.UUID, db *gorm.DB) ([]Index, error) {
	var indexes []Index

	result := db.Find(&indexes, "collection_id = ?", collectionId)
	if result.Error != nil {
		slog.Error("sql error listing collection indexes", "collection_id", collectionId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	return indexes, nil
}

func GetInstallation(installationId uuid.UUID, db *gorm.DB) (Installation, error) {
	var installation Installation

	result := db.First(&installation, "id = ?", installationId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return installation, ErrInstallationNotFound
		}
		slog.Error("sql error in get installation", "installation_id", installationId, "error", result.Error)
		return installation, ErrDbAccessFailed
	}

	return installation, nil
}

// FindInstallations returns every installation row matching the provider
// assigned installation id. Multiple projects may link the same install.
func FindInstallations(providerInstallationId string, limit int, db *gorm.DB) ([]Installation, error) {
	var installations []Installation

	result := db.Limit(limit).Find(&installations, "installation_id = ?", providerInstallationId)
	if result.Error != nil {
		slog.Error("sql error finding installations", "provider_installation_id", providerInstallationId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	return installations, nil
}

func FindRepoLinks(repositoryId string, limit int, db *gorm.DB) ([]RepoLink, error) {
	var links []RepoLink

	result := db.Limit(limit).Find(&links, "repository_id = ?", repositoryId)
	if result.Error != nil {
		slog.Error("sql error finding repo links", "repository_id", repositoryId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	return links, nil
}

func ListInstallationRepoLinks(installationId uuid.UUID, limit int, db *gorm.DB) ([]RepoLink, error) {
	var links []RepoLink

	result := db.Limit(limit).Find(&links, "installation_id = ?", installationId)
	if result.Error != nil {
		slog.Error("sql error listing installation repo links", "installation_id", installationId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	return links, nil
}

func GetFunction(functionId uuid.UUID, db *gorm.DB) (Function, error) {
	var function Function

	result := db.First(&function, "id = ?", functionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return function, ErrFunctionNotFound
		}
		slog.Error("sql error in get function", "function_id", functionId, "error", result.Error)
		return function, ErrDbAccessFailed
	}

	return function, nil
}
