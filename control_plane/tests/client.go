package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"corebase/control_plane/schema"

	"github.com/google/uuid"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader

	allowRedirect bool
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) AllowRedirect() *httpTestRequest {
	r.allowRedirect = true
	return r
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if r.allowRedirect && res.StatusCode == http.StatusFound {
		if location, ok := result.(*string); ok {
			*location = res.Header.Get("Location")
		}
		return nil
	}

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing response from endpoint %v: %w", r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api http.Handler
}

func (env *testEnv) newClient() client {
	return client{api: env.api}
}

func (c *client) createProject(name string) (uuid.UUID, error) {
	var res struct {
		ProjectId uuid.UUID `json:"project_id"`
	}
	err := newHttpTestRequest(c.api, "POST", "/projects/create").
		Json(map[string]string{"name": name, "namespace": "default"}).
		Do(&res)
	return res.ProjectId, err
}

func (c *client) createFunction(projectId uuid.UUID, name, entrypoint, branch string) (uuid.UUID, error) {
	var res struct {
		FunctionId uuid.UUID `json:"function_id"`
	}
	err := newHttpTestRequest(c.api, "POST", fmt.Sprintf("/projects/%v/functions", projectId)).
		Json(map[string]string{"name": name, "entrypoint": entrypoint, "production_branch": branch}).
		Do(&res)
	return res.FunctionId, err
}

func (c *client) createDatabase(projectId uuid.UUID, name string) (uuid.UUID, error) {
	var res struct {
		DatabaseId uuid.UUID `json:"database_id"`
	}
	err := newHttpTestRequest(c.api, "POST", "/databases/create").
		Json(map[string]interface{}{"project_id": projectId, "name": name}).
		Do(&res)
	return res.DatabaseId, err
}

func (c *client) createCollection(databaseId uuid.UUID, name string) (uuid.UUID, error) {
	var res struct {
		CollectionId uuid.UUID `json:"collection_id"`
	}
	err := newHttpTestRequest(c.api, "POST", fmt.Sprintf("/databases/%v/collections", databaseId)).
		Json(map[string]string{"name": name}).
		Do(&res)
	return res.CollectionId, err
}

func (c *client) createAttribute(databaseId, collectionId uuid.UUID, body map[string]interface{}) (uuid.UUID, error) {
	var res struct {
		AttributeId uuid.UUID `json:"attribute_id"`
	}
	err := newHttpTestRequest(c.api, "POST", fmt.Sprintf("/databases/%v/collections/%v/attributes", databaseId, collectionId)).
		Json(body).
		Do(&res)
	return res.AttributeId, err
}

func (c *client) getAttribute(databaseId, collectionId, attributeId uuid.UUID) (schema.Attribute, error) {
	var res schema.Attribute
	err := newHttpTestRequest(c.api, "GET", fmt.Sprintf("/databases/%v/collections/%v/attributes/%v", databaseId, collectionId, attributeId)).
		Do(&res)
	return res, err
}

func (c *client) deleteAttribute(databaseId, collectionId, attributeId uuid.UUID) error {
	return newHttpTestRequest(c.api, "DELETE", fmt.Sprintf("/databases/%v/collections/%v/attributes/%v", databaseId, collectionId, attributeId)).
		Do(nil)
}

func (c *client) createIndex(databaseId, collectionId uuid.UUID, key string, columns []schema.IndexColumn) (uuid.UUID, error) {
	var res struct {
		IndexId uuid.UUID `json:"index_id"`
	}
	err := newHttpTestRequest(c.api, "POST", fmt.Sprintf("/databases/%v/collections/%v/indexes", databaseId, collectionId)).
		Json(map[string]interface{}{"key": key, "type": "key", "columns": columns}).
		Do(&res)
	return res.IndexId, err
}

func (c *client) getIndex(databaseId, collectionId, indexId uuid.UUID) (schema.Index, error) {
	var res schema.Index
	err := newHttpTestRequest(c.api, "GET", fmt.Sprintf("/databases/%v/collections/%v/indexes/%v", databaseId, collectionId, indexId)).
		Do(&res)
	return res, err
}

func (c *client) deleteIndex(databaseId, collectionId, indexId uuid.UUID) error {
	return newHttpTestRequest(c.api, "DELETE", fmt.Sprintf("/databases/%v/collections/%v/indexes/%v", databaseId, collectionId, indexId)).
		Do(nil)
}

func (c *client) sendWebhook(provider, event string, payload interface{}) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := newHttpTestRequest(c.api, "POST", fmt.Sprintf("/vcs/%v/incomingwebhook", provider)).
		Header(fmt.Sprintf("x-%v-event", provider), event).
		Json(payload).
		Do(&res)
	return res, err
}
