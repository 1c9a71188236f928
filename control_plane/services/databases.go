package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"corebase/control_plane/queue"
	"corebase/control_plane/schema"
	"corebase/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabasesService is the producer side of schema mutation. Handlers record
// the requested change in the catalog with a transitional status, then hand
// it to the mutation worker through the jobs queue. The engine tables are
// never touched on the request path.
type DatabasesService struct {
	db   *gorm.DB
	jobs queue.Publisher
}

func (s *DatabasesService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/create", s.CreateDatabase)

	r.Route("/{database_id}", func(r chi.Router) {
		r.Post("/collections", s.CreateCollection)

		r.Route("/collections/{collection_id}", func(r chi.Router) {
			r.Post("/attributes", s.CreateAttribute)
			r.Get("/attributes/{attribute_id}", s.GetAttribute)
			r.Delete("/attributes/{attribute_id}", s.DeleteAttribute)

			r.Post("/indexes", s.CreateIndex)
			r.Get("/indexes/{index_id}", s.GetIndex)
			r.Delete("/indexes/{index_id}", s.DeleteIndex)
		})
	})

	return r
}

type createDatabaseRequest struct {
	ProjectId uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
}

type createDatabaseResponse struct {
	DatabaseId uuid.UUID `json:"database_id"`
}

func (s *DatabasesService) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	var params createDatabaseRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "database name must be specified", http.StatusBadRequest)
		return
	}

	if _, err := schema.GetProject(params.ProjectId, s.db); err != nil {
		http.Error(w, fmt.Sprintf("error getting project: %v", err), projectErrorCode(err))
		return
	}

	database := schema.Database{Id: uuid.New(), Name: params.Name, ProjectId: params.ProjectId}

	result := s.db.Create(&database)
	if result.Error != nil {
		slog.Error("sql error creating database", "error", result.Error)
		http.Error(w, "error creating database", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createDatabaseResponse{DatabaseId: database.Id})
}

type createCollectionRequest struct {
	Name string `json:"name"`
}

type createCollectionResponse struct {
	CollectionId uuid.UUID `json:"collection_id"`
}

func (s *DatabasesService) CreateCollection(w http.ResponseWriter, r *http.Request) {
	databaseId, err := utils.URLParamUUID(r, "database_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params createCollectionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "collection name must be specified", http.StatusBadRequest)
		return
	}

	if _, err := schema.GetDatabase(databaseId, s.db); err != nil {
		http.Error(w, fmt.Sprintf("error getting database: %v", err), catalogErrorCode(err))
		return
	}

	collection := schema.Collection{Id: uuid.New(), Name: params.Name, DatabaseId: databaseId}

	result := s.db.Create(&collection)
	if result.Error != nil {
		slog.Error("sql error creating collection", "error", result.Error)
		http.Error(w, "error creating collection", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createCollectionResponse{CollectionId: collection.Id})
}

func catalogErrorCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrProjectNotFound),
		errors.Is(err, schema.ErrDatabaseNotFound),
		errors.Is(err, schema.ErrCollectionNotFound),
		errors.Is(err, schema.ErrAttributeNotFound),
		errors.Is(err, schema.ErrIndexNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// resolveCollection loads the collection and its database so handlers can
// address the queue message with the full project/database/collection path.
func (s *DatabasesService) resolveCollection(r *http.Request) (schema.Database, schema.Collection, error) {
	databaseId, err := utils.URLParamUUID(r, "database_id")
	if err != nil {
		return schema.Database{}, schema.Collection{}, CodedError(err, http.StatusBadRequest)
	}
	collectionId, err := utils.URLParamUUID(r, "collection_id")
	if err != nil {
		return schema.Database{}, schema.Collection{}, CodedError(err, http.StatusBadRequest)
	}

	database, err := schema.GetDatabase(databaseId, s.db)
	if err != nil {
		return schema.Database{}, schema.Collection{}, CodedError(err, catalogErrorCode(err))
	}

	collection, err := schema.GetCollection(collectionId, s.db)
	if err != nil {
		return database, schema.Collection{}, CodedError(err, catalogErrorCode(err))
	}
	if collection.DatabaseId != database.Id {
		return database, schema.Collection{}, CodedError(schema.ErrCollectionNotFound, http.StatusNotFound)
	}

	return database, collection, nil
}

func (s *DatabasesService) enqueue(opType queue.OperationType, database schema.Database, collection schema.Collection, documentId uuid.UUID) error {
	msg := queue.Message{
		Type:         opType,
		ProjectId:    database.ProjectId,
		DatabaseId:   database.Id,
		CollectionId: collection.Id,
		DocumentId:   documentId,
	}

	if err := s.jobs.Publish(msg); err != nil {
		slog.Error("error enqueueing schema mutation", "type", opType, "document_id", documentId, "error", err)
		return fmt.Errorf("error enqueueing %v: %w", opType, err)
	}

	return nil
}

type createAttributeRequest struct {
	Key           string            `json:"key"`
	Type          string            `json:"type"`
	Size          int               `json:"size"`
	Required      bool              `json:"required"`
	Default       *string           `json:"default"`
	Signed        bool              `json:"signed"`
	Array         bool              `json:"array"`
	Format        string            `json:"format"`
	FormatOptions datatypes.JSONMap `json:"format_options"`
	Filters       []string          `json:"filters"`
}

type createAttributeResponse struct {
	AttributeId uuid.UUID `json:"attribute_id"`
	Status      string    `json:"status"`
}

func (s *DatabasesService) CreateAttribute(w http.ResponseWriter, r *http.Request) {
	database, collection, err := s.resolveCollection(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var params createAttributeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Key == "" || params.Type == "" {
		http.Error(w, "attribute key and type must be specified", http.StatusBadRequest)
		return
	}

	attribute := schema.Attribute{
		Id:            uuid.New(),
		DatabaseId:    database.Id,
		CollectionId:  collection.Id,
		Key:           params.Key,
		Type:          params.Type,
		Size:          params.Size,
		Required:      params.Required,
		Default:       params.Default,
		Signed:        params.Signed,
		Array:         params.Array,
		Format:        params.Format,
		FormatOptions: params.FormatOptions,
		Filters:       datatypes.NewJSONSlice(params.Filters),
		Status:        schema.StatusProcessing,
	}

	result := s.db.Create(&attribute)
	if result.Error != nil {
		slog.Error("sql error creating attribute", "error", result.Error)
		http.Error(w, "error creating attribute", http.StatusInternalServerError)
		return
	}

	if err := s.enqueue(queue.CreateAttribute, database, collection, attribute.Id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createAttributeResponse{AttributeId: attribute.Id, Status: attribute.Status})
}

func (s *DatabasesService) GetAttribute(w http.ResponseWriter, r *http.Request) {
	_, collection, err := s.resolveCollection(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	attributeId, err := utils.URLParamUUID(r, "attribute_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	attribute, err := schema.GetAttribute(attributeId, s.db)
	if err != nil || attribute.CollectionId != collection.Id {
		http.Error(w, "attribute not found", http.StatusNotFound)
		return
	}

	utils.WriteJsonResponse(w, attribute)
}

func (s *DatabasesService) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	database, collection, err := s.resolveCollection(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	attributeId, err := utils.URLParamUUID(r, "attribute_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	attribute, err := schema.GetAttribute(attributeId, s.db)
	if err != nil || attribute.CollectionId != collection.Id {
		http.Error(w, "attribute not found", http.StatusNotFound)
		return
	}

	result := s.db.Model(&attribute).Update("status", schema.StatusDeleting)
	if result.Error != nil {
		slog.Error("sql error marking attribute deleting", "attribute_id", attributeId, "error", result.Error)
		http.Error(w, "error deleting attribute", http.StatusInternalServerError)
		return
	}

	if err := s.enqueue(queue.DeleteAttribute, database, collection, attribute.Id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

type createIndexRequest struct {
	Key     string               `json:"key"`
	Type    string               `json:"type"`
	Columns []schema.IndexColumn `json:"columns"`
}

type createIndexResponse struct {
	IndexId uuid.UUID `json:"index_id"`
	Status  string    `json:"status"`
}

func (s *DatabasesService) CreateIndex(w http.ResponseWriter, r *http.Request) {
	database, collection, err := s.resolveCollection(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var params createIndexRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Key == "" || len(params.Columns) == 0 {
		http.Error(w, "index key and columns must be specified", http.StatusBadRequest)
		return
	}

	index := schema.Index{
		Id:           uuid.New(),
		DatabaseId:   database.Id,
		CollectionId: collection.Id,
		Key:          params.Key,
		Type:         params.Type,
		Columns:      datatypes.NewJSONSlice(params.Columns),
		Status:       schema.StatusProcessing,
	}

	result := s.db.Create(&index)
	if result.Error != nil {
		slog.Error("sql error creating index", "error", result.Error)
		http.Error(w, "error creating index", http.StatusInternalServerError)
		return
	}

	if err := s.enqueue(queue.CreateIndex, database, collection, index.Id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createIndexResponse{IndexId: index.Id, Status: index.Status})
}

func (s *DatabasesService) GetIndex(w http.ResponseWriter, r *http.Request) {
	_, collection, err := s.resolveCollection(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	indexId, err := utils.URLParamUUID(r, "index_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	index, err := schema.GetIndex(indexId, s.db)
	if err != nil || index.CollectionId != collection.Id {
		http.Error(w, "index not found", http.StatusNotFound)
		return
	}

	utils.WriteJsonResponse(w, index)
}

func (s *DatabasesService) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	database, collection, err := s.resolveCollection(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	indexId, err := utils.URLParamUUID(r, "index_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	index, err := schema.GetIndex(indexId, s.db)
	if err != nil || index.CollectionId != collection.Id {
		http.Error(w, "index not found", http.StatusNotFound)
		return
	}

	result := s.db.Model(&index).Update("status", schema.StatusDeleting)
	if result.Error != nil {
		slog.Error("sql error marking index deleting", "index_id", indexId, "error", result.Error)
		http.Error(w, "error deleting index", http.StatusInternalServerError)
		return
	}

	if err := s.enqueue(queue.DeleteIndex, database, collection, index.Id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}
