package github

import (
	"testing"

	"corebase/control_plane/vcs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter() *Adapter {
	config := vcs.Config{}
	config.Github.AppName = "testapp"
	return NewAdapter(config, StaticTokenSource{Token: "token"})
}

func TestNormalizePush(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/feature/login",
		"repository": {"id": 42},
		"installation": {"id": 7}
	}`)

	event, err := testAdapter().Normalize("push", payload)
	require.NoError(t, err)

	assert.Equal(t, vcs.EventPush, event.Type)
	require.NotNil(t, event.Push)
	assert.Equal(t, "feature/login", event.Push.Branch)
	assert.Equal(t, "42", event.Push.RepositoryId)
	assert.Equal(t, "7", event.Push.InstallationId)
	assert.Equal(t, "feature/login", event.Raw["branch"])
}

func TestNormalizeInstallationRemoved(t *testing.T) {
	payload := []byte(`{"action": "deleted", "installation": {"id": 7}}`)

	event, err := testAdapter().Normalize("installation", payload)
	require.NoError(t, err)

	assert.Equal(t, vcs.EventInstallationRemoved, event.Type)
	require.NotNil(t, event.Installation)
	assert.Equal(t, "7", event.Installation.InstallationId)
}

func TestNormalizeInstallationCreatedIsUnrecognized(t *testing.T) {
	payload := []byte(`{"action": "created", "installation": {"id": 7}}`)

	event, err := testAdapter().Normalize("installation", payload)
	require.NoError(t, err)

	assert.Equal(t, vcs.EventUnrecognized, event.Type)
	assert.Nil(t, event.Installation)
}

func TestNormalizePullRequest(t *testing.T) {
	payload := []byte(`{"action": "opened", "number": 12, "repository": {"id": 42}}`)

	event, err := testAdapter().Normalize("pull_request", payload)
	require.NoError(t, err)

	assert.Equal(t, vcs.EventPullRequest, event.Type)
	require.NotNil(t, event.PullRequest)
	assert.Equal(t, "opened", event.PullRequest.Action)
	assert.Equal(t, 12, event.PullRequest.Number)
}

func TestNormalizeUnknownEvent(t *testing.T) {
	event, err := testAdapter().Normalize("star", []byte(`{"action": "created"}`))
	require.NoError(t, err)

	assert.Equal(t, vcs.EventUnrecognized, event.Type)
	assert.Equal(t, "created", event.Raw["action"])
}

func TestNormalizeMalformedPayload(t *testing.T) {
	_, err := testAdapter().Normalize("push", []byte("not json"))
	assert.Error(t, err)
}

func TestInstallURL(t *testing.T) {
	url := testAdapter().InstallURL("some state")

	assert.Equal(t, "https://github.com/apps/testapp/installations/new?state=some+state", url)
}
