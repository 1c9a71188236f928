package tests

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"corebase/control_plane/schema"

	"github.com/google/uuid"
)

func setupInstallation(t *testing.T, env *testEnv, projectId uuid.UUID, providerInstallationId string) uuid.UUID {
	installation := schema.Installation{
		Id:             uuid.New(),
		InstallationId: providerInstallationId,
		Provider:       "github",
		ProjectId:      projectId,
	}
	if result := env.db.Create(&installation); result.Error != nil {
		t.Fatal(result.Error)
	}
	return installation.Id
}

func (c *client) linkRepository(installationId uuid.UUID, repositoryId string, functionId uuid.UUID) (uuid.UUID, error) {
	var res struct {
		RepoLinkId uuid.UUID `json:"repo_link_id"`
	}
	err := newHttpTestRequest(c.api, "POST", fmt.Sprintf("/vcs/github/installations/%v/repositories/%v", installationId, repositoryId)).
		Json(map[string]interface{}{"resource_id": functionId, "resource_type": "function"}).
		Do(&res)
	return res.RepoLinkId, err
}

func pushPayload(branch string, repositoryId, installationId int) map[string]interface{} {
	return map[string]interface{}{
		"ref":          "refs/heads/" + branch,
		"repository":   map[string]interface{}{"id": repositoryId},
		"installation": map[string]interface{}{"id": installationId},
	}
}

func TestPushWebhookFanout(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	projectId, err := c.createProject("proj")
	if err != nil {
		t.Fatal(err)
	}

	mainFn, err := c.createFunction(projectId, "on-main", "index.js", "main")
	if err != nil {
		t.Fatal(err)
	}
	prodFn, err := c.createFunction(projectId, "on-prod", "server.js", "prod")
	if err != nil {
		t.Fatal(err)
	}

	installationId := setupInstallation(t, env, projectId, "7")
	if _, err := c.linkRepository(installationId, "42", mainFn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.linkRepository(installationId, "42", prodFn); err != nil {
		t.Fatal(err)
	}

	echo, err := c.sendWebhook("github", "push", pushPayload("main", 42, 7))
	if err != nil {
		t.Fatal(err)
	}
	if echo["branch"] != "main" || echo["repositoryId"] != "42" {
		t.Fatalf("expected normalized payload to be echoed, got %v", echo)
	}

	var deployments []schema.Deployment
	if result := env.db.Order("created_at").Find(&deployments); result.Error != nil {
		t.Fatal(result.Error)
	}
	if len(deployments) != 2 {
		t.Fatalf("expected one deployment per linked function, got %d", len(deployments))
	}

	for _, d := range deployments {
		if d.Branch != "main" || d.Type != schema.DeploymentTypeVcs {
			t.Fatalf("unexpected deployment %+v", d)
		}
		switch d.ResourceId {
		case mainFn:
			if !d.Activate || d.Entrypoint != "index.js" {
				t.Fatalf("push to the production branch must activate, got %+v", d)
			}
		case prodFn:
			if d.Activate || d.Entrypoint != "server.js" {
				t.Fatalf("push to a non-production branch must not activate, got %+v", d)
			}
		default:
			t.Fatalf("deployment for unknown function %v", d.ResourceId)
		}
	}

	builds := env.builds.builds()
	if len(builds) != 2 {
		t.Fatalf("expected a build trigger per deployment, got %d", len(builds))
	}
}

func TestPushToFeatureBranch(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	projectId, err := c.createProject("proj")
	if err != nil {
		t.Fatal(err)
	}
	functionId, err := c.createFunction(projectId, "fn", "index.js", "main")
	if err != nil {
		t.Fatal(err)
	}

	installationId := setupInstallation(t, env, projectId, "7")
	if _, err := c.linkRepository(installationId, "42", functionId); err != nil {
		t.Fatal(err)
	}

	if _, err := c.sendWebhook("github", "push", pushPayload("feature-x", 42, 7)); err != nil {
		t.Fatal(err)
	}

	var deployment schema.Deployment
	if result := env.db.First(&deployment); result.Error != nil {
		t.Fatal(result.Error)
	}
	if deployment.Branch != "feature-x" || deployment.Activate {
		t.Fatalf("feature branch pushes must not activate, got %+v", deployment)
	}
}

func TestPushToUnlinkedRepository(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	if _, err := c.sendWebhook("github", "push", pushPayload("main", 999, 7)); err != nil {
		t.Fatal(err)
	}

	var count int64
	env.db.Model(&schema.Deployment{}).Count(&count)
	if count != 0 {
		t.Fatal("push to an unlinked repository must not create deployments")
	}
}

func TestInstallationRemovedCascade(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	projectId, err := c.createProject("proj")
	if err != nil {
		t.Fatal(err)
	}
	functionId, err := c.createFunction(projectId, "fn", "index.js", "main")
	if err != nil {
		t.Fatal(err)
	}

	installationId := setupInstallation(t, env, projectId, "7")
	if _, err := c.linkRepository(installationId, "42", functionId); err != nil {
		t.Fatal(err)
	}

	removal := map[string]interface{}{
		"action":       "deleted",
		"installation": map[string]interface{}{"id": 7},
	}
	if _, err := c.sendWebhook("github", "installation", removal); err != nil {
		t.Fatal(err)
	}

	var installations, links int64
	env.db.Model(&schema.Installation{}).Count(&installations)
	env.db.Model(&schema.RepoLink{}).Count(&links)
	if installations != 0 || links != 0 {
		t.Fatalf("expected cascade to remove installation and links, got %d/%d", installations, links)
	}

	// A redelivered removal finds nothing and still succeeds.
	if _, err := c.sendWebhook("github", "installation", removal); err != nil {
		t.Fatal(err)
	}
}

func TestInstallationFlow(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	projectId, err := c.createProject("proj")
	if err != nil {
		t.Fatal(err)
	}

	var location string
	err = newHttpTestRequest(c.api, "GET", fmt.Sprintf("/vcs/github/installations?project_id=%v", projectId)).
		AllowRedirect().
		Do(&location)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(location, "/installations/new") {
		t.Fatalf("expected redirect to the provider install page, got %v", location)
	}

	redirect, err := url.Parse(location)
	if err != nil {
		t.Fatal(err)
	}
	state := redirect.Query().Get("state")
	if state == "" {
		t.Fatal("install redirect must carry a state token")
	}

	var callback string
	err = newHttpTestRequest(c.api, "GET",
		fmt.Sprintf("/vcs/github/incominginstallation?state=%v&installation_id=99", url.QueryEscape(state))).
		AllowRedirect().
		Do(&callback)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(callback, testConsoleUrl) || !strings.Contains(callback, projectId.String()) {
		t.Fatalf("expected redirect back to the project console, got %v", callback)
	}

	var installation schema.Installation
	if result := env.db.First(&installation, "installation_id = ?", "99"); result.Error != nil {
		t.Fatal(result.Error)
	}
	if installation.ProjectId != projectId || installation.Provider != "github" {
		t.Fatalf("unexpected installation %+v", installation)
	}

	// Completing the flow again must not duplicate the installation.
	err = newHttpTestRequest(c.api, "GET",
		fmt.Sprintf("/vcs/github/incominginstallation?state=%v&installation_id=99", url.QueryEscape(state))).
		AllowRedirect().
		Do(&callback)
	if err != nil {
		t.Fatal(err)
	}
	var count int64
	env.db.Model(&schema.Installation{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single installation row, got %d", count)
	}
}

func TestInstallationFlowRejectsBadState(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	err := newHttpTestRequest(c.api, "GET", "/vcs/github/incominginstallation?state=garbage&installation_id=99").
		Do(nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected tampered state to surface as not found, got %v", err)
	}
}

func TestUnrecognizedWebhookEchoed(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	echo, err := c.sendWebhook("github", "star", map[string]interface{}{"action": "created"})
	if err != nil {
		t.Fatal(err)
	}
	if echo["action"] != "created" {
		t.Fatalf("unrecognized events must be echoed untouched, got %v", echo)
	}
}

func TestPullRequestWebhookIgnored(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	payload := map[string]interface{}{
		"action":     "opened",
		"number":     12,
		"repository": map[string]interface{}{"id": 42},
	}
	if _, err := c.sendWebhook("github", "pull_request", payload); err != nil {
		t.Fatal(err)
	}

	var count int64
	env.db.Model(&schema.Deployment{}).Count(&count)
	if count != 0 {
		t.Fatal("pull request events must not create deployments")
	}
}
