package github

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"corebase/control_plane/vcs"
)

// TokenSource exchanges a provider installation id for a short lived access
// token. The app key handling behind the exchange is not this package's
// concern.
type TokenSource interface {
	InstallationToken(installationId string) (string, error)
}

type Adapter struct {
	appName string
	apiUrl  string
	htmlUrl string
	tokens  TokenSource
}

func NewAdapter(config vcs.Config, tokens TokenSource) *Adapter {
	apiUrl := config.Github.ApiUrl
	if apiUrl == "" {
		apiUrl = "https://api.github.com"
	}
	htmlUrl := config.Github.HtmlUrl
	if htmlUrl == "" {
		htmlUrl = "https://github.com"
	}

	return &Adapter{appName: config.Github.AppName, apiUrl: apiUrl, htmlUrl: htmlUrl, tokens: tokens}
}

func (a *Adapter) Name() string {
	return "github"
}

func (a *Adapter) InstallURL(state string) string {
	return fmt.Sprintf("%v/apps/%v/installations/new?state=%v", a.htmlUrl, a.appName, url.QueryEscape(state))
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		Id int64 `json:"id"`
	} `json:"repository"`
	Installation struct {
		Id int64 `json:"id"`
	} `json:"installation"`
}

type installationPayload struct {
	Action       string `json:"action"`
	Installation struct {
		Id int64 `json:"id"`
	} `json:"installation"`
}

type pullRequestPayload struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		Id int64 `json:"id"`
	} `json:"repository"`
}

func rawPayload(doc interface{}) map[string]interface{} {
	data, err := json.Marshal(doc)
	if err != nil {
		return map[string]interface{}{}
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]interface{}{}
	}
	return raw
}

func (a *Adapter) Normalize(eventName string, payload []byte) (vcs.Event, error) {
	switch eventName {
	case "push":
		var parsed pushPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return vcs.Event{}, fmt.Errorf("error parsing github push payload: %w", err)
		}

		push := &vcs.PushEvent{
			Branch:         strings.TrimPrefix(parsed.Ref, "refs/heads/"),
			RepositoryId:   strconv.FormatInt(parsed.Repository.Id, 10),
			InstallationId: strconv.FormatInt(parsed.Installation.Id, 10),
		}
		return vcs.Event{Type: vcs.EventPush, Push: push, Raw: rawPayload(push)}, nil

	case "installation":
		var parsed installationPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return vcs.Event{}, fmt.Errorf("error parsing github installation payload: %w", err)
		}

		installation := &vcs.InstallationEvent{
			InstallationId: strconv.FormatInt(parsed.Installation.Id, 10),
		}
		if parsed.Action != "deleted" {
			// Only removals mutate the catalog; other installation actions
			// are echoed back untouched.
			return vcs.Event{Type: vcs.EventUnrecognized, Raw: rawPayload(installation)}, nil
		}
		return vcs.Event{Type: vcs.EventInstallationRemoved, Installation: installation, Raw: rawPayload(installation)}, nil

	case "pull_request":
		var parsed pullRequestPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return vcs.Event{}, fmt.Errorf("error parsing github pull request payload: %w", err)
		}

		pullRequest := &vcs.PullRequestEvent{
			Action:       parsed.Action,
			Number:       parsed.Number,
			RepositoryId: strconv.FormatInt(parsed.Repository.Id, 10),
		}
		return vcs.Event{Type: vcs.EventPullRequest, PullRequest: pullRequest, Raw: rawPayload(pullRequest)}, nil

	default:
		var raw map[string]interface{}
		if err := json.Unmarshal(payload, &raw); err != nil {
			return vcs.Event{}, fmt.Errorf("error parsing github %v payload: %w", eventName, err)
		}
		return vcs.Event{Type: vcs.EventUnrecognized, Raw: raw}, nil
	}
}

type repositoriesResponse struct {
	Repositories []struct {
		Id      int64  `json:"id"`
		Name    string `json:"name"`
		Private bool   `json:"private"`
	} `json:"repositories"`
}

func (a *Adapter) ListRepositories(installationId string) ([]vcs.Repository, error) {
	token, err := a.tokens.InstallationToken(installationId)
	if err != nil {
		slog.Error("error exchanging github installation token", "installation_id", installationId, "error", err)
		return nil, fmt.Errorf("error exchanging installation token: %w", err)
	}

	endpoint, err := url.JoinPath(a.apiUrl, "installation/repositories")
	if err != nil {
		return nil, fmt.Errorf("error formatting github api url: %w", err)
	}

	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating github list repositories request: %w", err)
	}
	req.Header.Add("Accept", "application/vnd.github+json")
	req.Header.Add("Authorization", "Bearer "+token)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending github list repositories request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		data, readErr := io.ReadAll(res.Body)
		if readErr == nil {
			slog.Error("github returned error listing repositories", "code", res.StatusCode, "response", string(data))
		}
		return nil, fmt.Errorf("github list repositories returned status %d", res.StatusCode)
	}

	var parsed repositoriesResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error parsing github repositories response: %w", err)
	}

	repos := make([]vcs.Repository, 0, len(parsed.Repositories))
	for _, repo := range parsed.Repositories {
		repos = append(repos, vcs.Repository{
			Id:      strconv.FormatInt(repo.Id, 10),
			Name:    repo.Name,
			Private: repo.Private,
		})
	}

	return repos, nil
}
