package tests

import (
	"fmt"
	"sync"
	"testing"

	"corebase/control_plane/auth"
	"corebase/control_plane/builds"
	"corebase/control_plane/engine"
	"corebase/control_plane/queue"
	"corebase/control_plane/realtime"
	"corebase/control_plane/schema"
	"corebase/control_plane/services"
	"corebase/control_plane/vcs"
	"corebase/control_plane/vcs/github"
	"corebase/control_plane/worker"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	api      chi.Router
	platform services.Platform

	jobs     *queue.MemoryQueue
	worker   *worker.Worker
	engine   *engineStub
	realtime *publisherStub
	builds   *buildTriggerStub
}

const testConsoleUrl = "https://console.test"

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(
		&schema.Project{}, &schema.Database{}, &schema.Collection{},
		&schema.Attribute{}, &schema.Index{},
		&schema.Installation{}, &schema.RepoLink{},
		&schema.Function{}, &schema.Deployment{},
	)
	if err != nil {
		t.Fatal(err)
	}

	jobs := queue.NewMemoryQueue()
	eng := newEngineStub()
	publisher := &publisherStub{}
	buildTrigger := &buildTriggerStub{}

	githubProvider := github.NewAdapter(vcs.Config{}, github.StaticTokenSource{Token: "test-token"})

	platform := services.NewPlatform(db, services.PlatformArgs{
		SchemaJobs: jobs,
		Providers:  map[string]vcs.Provider{githubProvider.Name(): githubProvider},
		States:     auth.NewStateTokens([]byte("290zcv02ai249")),
		Builds:     buildTrigger,
		ConsoleUrl: testConsoleUrl,
	})

	w := worker.NewWorker(db, engine.StaticResolver{Client: eng}, publisher, auth.SystemScope())

	return &testEnv{
		db:       db,
		api:      platform.Routes(),
		platform: platform,
		jobs:     jobs,
		worker:   w,
		engine:   eng,
		realtime: publisher,
		builds:   buildTrigger,
	}
}

// drainJobs runs the mutation worker over every queued message.
func (env *testEnv) drainJobs(t *testing.T) {
	if err := env.jobs.Drain(env.worker.Handler()); err != nil {
		t.Fatalf("error draining schema jobs: %v", err)
	}
}

type engineCall struct {
	Op    string
	Table string
	Key   string
}

// engineStub records schema calls and fails any whose key is listed in
// failKeys, standing in for the tenant backing store.
type engineStub struct {
	mu       sync.Mutex
	calls    []engineCall
	failKeys map[string]bool
}

func newEngineStub() *engineStub {
	return &engineStub{failKeys: map[string]bool{}}
}

func (e *engineStub) failOn(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failKeys[key] = true
}

func (e *engineStub) record(op, table, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{Op: op, Table: table, Key: key})
	if e.failKeys[key] {
		return fmt.Errorf("engine rejected %v on %v", op, key)
	}
	return nil
}

func (e *engineStub) callsFor(op string) []engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engineCall
	for _, call := range e.calls {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (e *engineStub) CreateCollection(table string) error {
	return e.record("create_collection", table, "")
}

func (e *engineStub) DeleteCollection(table string) error {
	return e.record("delete_collection", table, "")
}

func (e *engineStub) CreateAttribute(table string, attr engine.AttributeSpec) error {
	return e.record("create_attribute", table, attr.Key)
}

func (e *engineStub) DeleteAttribute(table string, key string) error {
	return e.record("delete_attribute", table, key)
}

func (e *engineStub) CreateIndex(table string, index engine.IndexSpec) error {
	return e.record("create_index", table, index.Key)
}

func (e *engineStub) DeleteIndex(table string, key string) error {
	return e.record("delete_index", table, key)
}

func (e *engineStub) PurgeCachedDocument(scope string, documentId string) error {
	return e.record("purge_document", scope, documentId)
}

func (e *engineStub) PurgeCachedCollection(table string) error {
	return e.record("purge_collection", table, "")
}

type publisherStub struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (p *publisherStub) Publish(msg realtime.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *publisherStub) published() []realtime.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Message{}, p.messages...)
}

type triggeredBuild struct {
	Function   schema.Function
	Deployment schema.Deployment
	Project    schema.Project
}

type buildTriggerStub struct {
	mu        sync.Mutex
	triggered []triggeredBuild
}

var _ builds.Trigger = (*buildTriggerStub)(nil)

func (b *buildTriggerStub) TriggerBuild(function schema.Function, deployment schema.Deployment, project schema.Project) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggered = append(b.triggered, triggeredBuild{Function: function, Deployment: deployment, Project: project})
	return nil
}

func (b *buildTriggerStub) builds() []triggeredBuild {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]triggeredBuild{}, b.triggered...)
}
