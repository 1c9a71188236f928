package vcs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type EventType string

const (
	EventPush                EventType = "push"
	EventInstallationRemoved EventType = "installation_removed"
	EventPullRequest         EventType = "pull_request"
	EventUnrecognized        EventType = "unrecognized"
)

type PushEvent struct {
	Branch         string `json:"branch"`
	RepositoryId   string `json:"repositoryId"`
	InstallationId string `json:"installationId"`
}

type InstallationEvent struct {
	InstallationId string `json:"installationId"`
}

type PullRequestEvent struct {
	Action       string `json:"action"`
	Number       int    `json:"number"`
	RepositoryId string `json:"repositoryId"`
}

// Event is the provider-agnostic form of an inbound webhook. Exactly one of
// the typed fields is set for recognized events; Raw always carries the
// normalized payload echoed back to the provider.
type Event struct {
	Type EventType

	Push         *PushEvent
	Installation *InstallationEvent
	PullRequest  *PullRequestEvent

	Raw map[string]interface{}
}

type Repository struct {
	Id      string `json:"id"`
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

// Provider adapts one source control vendor. Webhook signature verification
// and installation token exchange live behind this interface.
type Provider interface {
	Name() string

	// InstallURL is the provider page that starts the app installation flow.
	// The state token is carried through the flow opaquely.
	InstallURL(state string) string

	// Normalize converts a raw provider webhook into a canonical event.
	Normalize(eventName string, payload []byte) (Event, error)

	ListRepositories(installationId string) ([]Repository, error)
}

// Config holds provider settings loaded from the vcs config file.
type Config struct {
	Github struct {
		AppName string `yaml:"app_name"`
		AppId   string `yaml:"app_id"`
		ApiUrl  string `yaml:"api_url"`
		HtmlUrl string `yaml:"html_url"`
	} `yaml:"github"`
}

func LoadConfig(path string) (Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("error reading vcs config file %v: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("error parsing vcs config file %v: %w", path, err)
	}

	return config, nil
}
