package services

import (
	"fmt"
	"log/slog"
	"net/http"

	"corebase/control_plane/schema"
	"corebase/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectService struct {
	db *gorm.DB
}

func (s *ProjectService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/create", s.CreateProject)

	r.Route("/{project_id}", func(r chi.Router) {
		r.Get("/", s.GetProject)
		r.Post("/functions", s.CreateFunction)
	})

	return r
}

type createProjectRequest struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type createProjectResponse struct {
	ProjectId uuid.UUID `json:"project_id"`
}

func (s *ProjectService) CreateProject(w http.ResponseWriter, r *http.Request) {
	var params createProjectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "project name must be specified", http.StatusBadRequest)
		return
	}
	if params.Namespace == "" {
		params.Namespace = "default"
	}

	project := schema.Project{Id: uuid.New(), Name: params.Name, Namespace: params.Namespace}

	result := s.db.Create(&project)
	if result.Error != nil {
		slog.Error("sql error creating project", "error", result.Error)
		http.Error(w, "error creating project", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createProjectResponse{ProjectId: project.Id})
}

func (s *ProjectService) GetProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	project, err := schema.GetProject(projectId, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting project: %v", err), projectErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, project)
}

func projectErrorCode(err error) int {
	if err == schema.ErrProjectNotFound {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

type createFunctionRequest struct {
	Name             string `json:"name"`
	Entrypoint       string `json:"entrypoint"`
	ProductionBranch string `json:"production_branch"`
}

type createFunctionResponse struct {
	FunctionId uuid.UUID `json:"function_id"`
}

func (s *ProjectService) CreateFunction(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params createFunctionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "function name must be specified", http.StatusBadRequest)
		return
	}
	if params.Entrypoint == "" {
		params.Entrypoint = "index.js"
	}
	if params.ProductionBranch == "" {
		params.ProductionBranch = "main"
	}

	if _, err := schema.GetProject(projectId, s.db); err != nil {
		http.Error(w, fmt.Sprintf("error getting project: %v", err), projectErrorCode(err))
		return
	}

	function := schema.Function{
		Id:               uuid.New(),
		Name:             params.Name,
		ProjectId:        projectId,
		Entrypoint:       params.Entrypoint,
		ProductionBranch: params.ProductionBranch,
	}

	result := s.db.Create(&function)
	if result.Error != nil {
		slog.Error("sql error creating function", "error", result.Error)
		http.Error(w, "error creating function", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createFunctionResponse{FunctionId: function.Id})
}
