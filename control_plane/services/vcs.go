package services

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"corebase/control_plane/auth"
	"corebase/control_plane/builds"
	"corebase/control_plane/schema"
	"corebase/control_plane/vcs"
	"corebase/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// Fan-out bounds for a single webhook. Pushes beyond repoLinkFanout
	// repo links are dropped rather than processed unboundedly.
	repoLinkFanout       = 100
	installationCascade  = 1000
	installationLinkScan = 1000
)

// VcsService receives provider webhooks and runs the app installation flow.
// Webhook handlers read the catalog under an elevated scope because the
// provider request carries no tenant identity of its own.
type VcsService struct {
	db         *gorm.DB
	providers  map[string]vcs.Provider
	states     *auth.StateTokens
	builds     builds.Trigger
	scope      auth.Scope
	consoleUrl string
}

func (s *VcsService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{provider}", func(r chi.Router) {
		r.Get("/installations", s.NewInstallation)
		r.Get("/incominginstallation", s.CompleteInstallation)
		r.Get("/installations/{installation_id}/repositories", s.ListRepositories)
		r.Post("/installations/{installation_id}/repositories/{repository_id}", s.LinkRepository)
		r.Post("/incomingwebhook", s.IncomingWebhook)
	})

	return r
}

func (s *VcsService) provider(r *http.Request) (vcs.Provider, error) {
	name, err := utils.URLParam(r, "provider")
	if err != nil {
		return nil, CodedError(err, http.StatusBadRequest)
	}

	provider, ok := s.providers[name]
	if !ok {
		return nil, CodedError(fmt.Errorf("unsupported vcs provider '%v'", name), http.StatusNotFound)
	}

	return provider, nil
}

// NewInstallation redirects the caller to the provider's app install page,
// carrying a signed state token so the callback can recover the project.
func (s *VcsService) NewInstallation(w http.ResponseWriter, r *http.Request) {
	provider, err := s.provider(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	projectId, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid project_id query parameter: %v", err), http.StatusBadRequest)
		return
	}

	if _, err := schema.GetProject(projectId, s.db); err != nil {
		http.Error(w, fmt.Sprintf("error getting project: %v", err), projectErrorCode(err))
		return
	}

	state, err := s.states.Mint(projectId)
	if err != nil {
		http.Error(w, "error starting installation", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, provider.InstallURL(state), http.StatusFound)
}

// CompleteInstallation is the callback the provider redirects to once the app
// install finishes. The state token resolves back to the originating project;
// an invalid or expired state surfaces as project not found.
func (s *VcsService) CompleteInstallation(w http.ResponseWriter, r *http.Request) {
	provider, err := s.provider(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	providerInstallationId := r.URL.Query().Get("installation_id")
	if providerInstallationId == "" {
		http.Error(w, "missing installation_id query parameter", http.StatusBadRequest)
		return
	}

	projectId, err := s.states.Resolve(r.URL.Query().Get("state"))
	if err != nil {
		slog.Error("error resolving installation state token", "error", err)
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	project, err := schema.GetProject(projectId, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting project: %v", err), projectErrorCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Installation
		result := txn.Limit(1).Find(&existing, "installation_id = ? AND provider = ? AND project_id = ?", providerInstallationId, provider.Name(), project.Id)
		if result.Error != nil {
			slog.Error("sql error checking for existing installation", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return nil
		}

		installation := schema.Installation{
			Id:             uuid.New(),
			InstallationId: providerInstallationId,
			Provider:       provider.Name(),
			ProjectId:      project.Id,
		}
		result = txn.Create(&installation)
		if result.Error != nil {
			slog.Error("sql error creating installation", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		http.Error(w, "error recording installation", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%v/project-%v/settings/git-installations", s.consoleUrl, project.Id), http.StatusFound)
}

func (s *VcsService) ListRepositories(w http.ResponseWriter, r *http.Request) {
	provider, err := s.provider(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	installationId, err := utils.URLParamUUID(r, "installation_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	installation, err := schema.GetInstallation(installationId, s.db)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrInstallationNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("error getting installation: %v", err), code)
		return
	}

	repos, err := provider.ListRepositories(installation.InstallationId)
	if err != nil {
		http.Error(w, "error listing repositories", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, repos)
}

type linkRepositoryRequest struct {
	ResourceId   uuid.UUID `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
}

type linkRepositoryResponse struct {
	RepoLinkId uuid.UUID `json:"repo_link_id"`
}

// LinkRepository binds a provider repository to a platform resource so that
// pushes to the repository reach the resource.
func (s *VcsService) LinkRepository(w http.ResponseWriter, r *http.Request) {
	if _, err := s.provider(r); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	installationId, err := utils.URLParamUUID(r, "installation_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	repositoryId, err := utils.URLParam(r, "repository_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params linkRepositoryRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.ResourceType != schema.ResourceTypeFunction {
		http.Error(w, fmt.Sprintf("unsupported resource type '%v'", params.ResourceType), http.StatusBadRequest)
		return
	}

	installation, err := schema.GetInstallation(installationId, s.db)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrInstallationNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("error getting installation: %v", err), code)
		return
	}

	if _, err := schema.GetFunction(params.ResourceId, s.db); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrFunctionNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("error getting function: %v", err), code)
		return
	}

	link := schema.RepoLink{
		Id:             uuid.New(),
		InstallationId: installation.Id,
		ProjectId:      installation.ProjectId,
		RepositoryId:   repositoryId,
		ResourceId:     params.ResourceId,
		ResourceType:   params.ResourceType,
	}

	result := s.db.Create(&link)
	if result.Error != nil {
		slog.Error("sql error creating repo link", "error", result.Error)
		http.Error(w, "error creating repo link", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, linkRepositoryResponse{RepoLinkId: link.Id})
}

// IncomingWebhook normalizes the provider event, applies it, and echoes the
// normalized payload back. The echo happens for every recognized or
// unrecognized event so the provider's delivery log shows what was seen.
func (s *VcsService) IncomingWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := s.provider(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	eventName := r.Header.Get(fmt.Sprintf("x-%v-event", provider.Name()))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading webhook payload", http.StatusBadRequest)
		return
	}

	event, err := provider.Normalize(eventName, body)
	if err != nil {
		slog.Error("error normalizing webhook", "provider", provider.Name(), "event", eventName, "error", err)
		http.Error(w, fmt.Sprintf("error parsing webhook payload: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.HandleEvent(provider.Name(), event); err != nil {
		slog.Error("error handling webhook event", "provider", provider.Name(), "type", event.Type, "error", err)
		http.Error(w, "error handling webhook event", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, event.Raw)
}

// HandleEvent routes a normalized provider event to its effect on the
// catalog. Unrecognized events are acknowledged without effect.
func (s *VcsService) HandleEvent(providerName string, event vcs.Event) error {
	if err := s.scope.Require(); err != nil {
		return err
	}

	switch event.Type {
	case vcs.EventPush:
		return s.handlePush(event.Push)
	case vcs.EventInstallationRemoved:
		return s.handleInstallationRemoved(providerName, event.Installation)
	case vcs.EventPullRequest:
		// Pull request statuses and preview deployments are not wired up yet.
		slog.Info("ignoring pull request event", "provider", providerName, "action", event.PullRequest.Action)
		return nil
	default:
		slog.Info("ignoring unrecognized vcs event", "provider", providerName)
		return nil
	}
}

// handlePush fans a branch push out to every function linked to the pushed
// repository. A failure on one link is logged and the rest still deploy.
func (s *VcsService) handlePush(push *vcs.PushEvent) error {
	if push.Branch == "" || push.RepositoryId == "" {
		slog.Info("ignoring push event with missing branch or repository")
		return nil
	}

	links, err := schema.FindRepoLinks(push.RepositoryId, repoLinkFanout, s.db)
	if err != nil {
		return fmt.Errorf("error finding repo links for push: %w", err)
	}

	for _, link := range links {
		if link.ResourceType != schema.ResourceTypeFunction {
			continue
		}
		if err := s.deployFunction(link, push.Branch); err != nil {
			slog.Error("error deploying function for push", "repo_link_id", link.Id, "function_id", link.ResourceId, "error", err)
		}
	}

	return nil
}

func (s *VcsService) deployFunction(link schema.RepoLink, branch string) error {
	function, err := schema.GetFunction(link.ResourceId, s.db)
	if err != nil {
		return fmt.Errorf("error getting function: %w", err)
	}

	project, err := schema.GetProject(function.ProjectId, s.db)
	if err != nil {
		return fmt.Errorf("error getting project: %w", err)
	}

	deployment := schema.Deployment{
		Id:             uuid.New(),
		ResourceId:     function.Id,
		ResourceType:   schema.ResourceTypeFunction,
		Type:           schema.DeploymentTypeVcs,
		Entrypoint:     function.Entrypoint,
		Branch:         branch,
		InstallationId: link.InstallationId,
		RepoLinkId:     link.Id,
		Activate:       branch == function.ProductionBranch,
	}

	result := s.db.Create(&deployment)
	if result.Error != nil {
		slog.Error("sql error creating deployment", "function_id", function.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	return s.builds.TriggerBuild(function, deployment, project)
}

// handleInstallationRemoved cascades the provider side uninstall: every
// catalog installation matching the provider id loses its repo links and is
// removed. Replayed deliveries find nothing and succeed.
func (s *VcsService) handleInstallationRemoved(providerName string, removed *vcs.InstallationEvent) error {
	installations, err := schema.FindInstallations(removed.InstallationId, installationCascade, s.db)
	if err != nil {
		return fmt.Errorf("error finding installations for removal: %w", err)
	}

	for _, installation := range installations {
		if installation.Provider != providerName {
			continue
		}

		links, err := schema.ListInstallationRepoLinks(installation.Id, installationLinkScan, s.db)
		if err != nil {
			return fmt.Errorf("error listing repo links for removal: %w", err)
		}

		for _, link := range links {
			result := s.db.Delete(&schema.RepoLink{}, "id = ?", link.Id)
			if result.Error != nil {
				slog.Error("sql error deleting repo link", "repo_link_id", link.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		result := s.db.Delete(&schema.Installation{}, "id = ?", installation.Id)
		if result.Error != nil {
			slog.Error("sql error deleting installation", "installation_id", installation.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		slog.Info("removed vcs installation", "installation_id", installation.Id, "provider_installation_id", removed.InstallationId, "repo_links", len(links))
	}

	return nil
}
