package tests

import (
	"strings"
	"testing"

	"corebase/control_plane/queue"
	"corebase/control_plane/schema"

	"github.com/google/uuid"
)

func setupCollection(t *testing.T, env *testEnv, c *client) (databaseId, collectionId uuid.UUID) {
	projectId, err := c.createProject("proj")
	if err != nil {
		t.Fatal(err)
	}

	databaseId, err = c.createDatabase(projectId, "db")
	if err != nil {
		t.Fatal(err)
	}

	collectionId, err = c.createCollection(databaseId, "books")
	if err != nil {
		t.Fatal(err)
	}

	return databaseId, collectionId
}

func stringAttribute(key string) map[string]interface{} {
	return map[string]interface{}{
		"key": key, "type": "string", "size": 100, "signed": true,
	}
}

func TestCreateAttributeLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("title"))
	if err != nil {
		t.Fatal(err)
	}

	attr, err := c.getAttribute(databaseId, collectionId, attrId)
	if err != nil {
		t.Fatal(err)
	}
	if attr.Status != schema.StatusProcessing {
		t.Fatalf("expected status processing before worker runs, got %v", attr.Status)
	}

	env.drainJobs(t)

	attr, err = c.getAttribute(databaseId, collectionId, attrId)
	if err != nil {
		t.Fatal(err)
	}
	if attr.Status != schema.StatusAvailable {
		t.Fatalf("expected status available, got %v", attr.Status)
	}

	creates := env.engine.callsFor("create_attribute")
	if len(creates) != 1 || creates[0].Key != "title" {
		t.Fatalf("expected one engine create for 'title', got %v", creates)
	}
	if !strings.Contains(creates[0].Table, "database_") || !strings.Contains(creates[0].Table, "_collection_") {
		t.Fatalf("unexpected engine table name %v", creates[0].Table)
	}

	messages := env.realtime.published()
	if len(messages) != 1 {
		t.Fatalf("expected one realtime message, got %d", len(messages))
	}
	msg := messages[0]
	if len(msg.Events) == 0 || strings.Contains(msg.Events[0], "*") {
		t.Fatalf("first event must be the most specific, got %v", msg.Events)
	}
	if msg.Payload["Status"] != schema.StatusAvailable {
		t.Fatalf("payload must carry the final status, got %v", msg.Payload["Status"])
	}
}

func TestCreateAttributeEngineFailure(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	env.engine.failOn("title")

	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("title"))
	if err != nil {
		t.Fatal(err)
	}

	env.drainJobs(t)

	attr, err := c.getAttribute(databaseId, collectionId, attrId)
	if err != nil {
		t.Fatal(err)
	}
	if attr.Status != schema.StatusFailed {
		t.Fatalf("expected status failed, got %v", attr.Status)
	}

	// The outcome is published even when the engine rejects the change.
	if len(env.realtime.published()) != 1 {
		t.Fatal("expected failure to be published")
	}
}

func TestDeleteAttribute(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("title"))
	if err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	if err := c.deleteAttribute(databaseId, collectionId, attrId); err != nil {
		t.Fatal(err)
	}

	attr, err := c.getAttribute(databaseId, collectionId, attrId)
	if err != nil {
		t.Fatal(err)
	}
	if attr.Status != schema.StatusDeleting {
		t.Fatalf("expected status deleting before worker runs, got %v", attr.Status)
	}

	env.drainJobs(t)

	if _, err := c.getAttribute(databaseId, collectionId, attrId); err == nil {
		t.Fatal("expected attribute to be removed")
	}

	deletes := env.engine.callsFor("delete_attribute")
	if len(deletes) != 1 || deletes[0].Key != "title" {
		t.Fatalf("expected one engine delete for 'title', got %v", deletes)
	}
}

func TestDeleteAttributeEngineFailureSetsStuck(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("title"))
	if err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	env.engine.failOn("title")

	if err := c.deleteAttribute(databaseId, collectionId, attrId); err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	// The engine rejected the column drop, so the row survives as stuck
	// rather than disappearing from the catalog.
	attr, err := c.getAttribute(databaseId, collectionId, attrId)
	if err != nil {
		t.Fatal(err)
	}
	if attr.Status != schema.StatusStuck {
		t.Fatalf("expected status stuck after engine failure, got %v", attr.Status)
	}
}

func TestDeleteIndexEngineFailureSetsStuck(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	if _, err := c.createAttribute(databaseId, collectionId, stringAttribute("title")); err != nil {
		t.Fatal(err)
	}
	indexId, err := c.createIndex(databaseId, collectionId, "idx_title", []schema.IndexColumn{
		{Key: "title", Length: 0, Order: "ASC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	env.engine.failOn("idx_title")

	if err := c.deleteIndex(databaseId, collectionId, indexId); err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	index, err := c.getIndex(databaseId, collectionId, indexId)
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != schema.StatusStuck {
		t.Fatalf("expected status stuck after engine failure, got %v", index.Status)
	}
}

func TestDeleteFailedAttributeSkipsEngine(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	env.engine.failOn("title")

	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("title"))
	if err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	if err := c.deleteAttribute(databaseId, collectionId, attrId); err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	if _, err := c.getAttribute(databaseId, collectionId, attrId); err == nil {
		t.Fatal("expected attribute row to be removed")
	}

	// A column that was never created must not be dropped from the engine.
	if deletes := env.engine.callsFor("delete_attribute"); len(deletes) != 0 {
		t.Fatalf("expected no engine deletes, got %v", deletes)
	}
}

func TestIndexRewriteOnAttributeDelete(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	for _, key := range []string{"author", "title"} {
		if _, err := c.createAttribute(databaseId, collectionId, stringAttribute(key)); err != nil {
			t.Fatal(err)
		}
	}
	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("year"))
	if err != nil {
		t.Fatal(err)
	}

	wideIdx, err := c.createIndex(databaseId, collectionId, "idx_wide", []schema.IndexColumn{
		{Key: "author", Length: 0, Order: "ASC"},
		{Key: "year", Length: 0, Order: "DESC"},
		{Key: "title", Length: 0, Order: "ASC"},
	})
	if err != nil {
		t.Fatal(err)
	}

	soloIdx, err := c.createIndex(databaseId, collectionId, "idx_solo", []schema.IndexColumn{
		{Key: "year", Length: 0, Order: "ASC"},
	})
	if err != nil {
		t.Fatal(err)
	}

	env.drainJobs(t)

	if err := c.deleteAttribute(databaseId, collectionId, attrId); err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	index, err := c.getIndex(databaseId, collectionId, wideIdx)
	if err != nil {
		t.Fatal(err)
	}
	if len(index.Columns) != 2 || index.Columns[0].Key != "author" || index.Columns[1].Key != "title" {
		t.Fatalf("expected 'year' removed from index columns, got %v", index.Columns)
	}
	if index.Columns[1].Order != "ASC" {
		t.Fatalf("remaining columns must keep their orders, got %v", index.Columns)
	}

	// The index whose only column was the deleted attribute loses its
	// catalog row; the backing store already dropped it with the column.
	if _, err := c.getIndex(databaseId, collectionId, soloIdx); err == nil {
		t.Fatal("expected emptied index row to be removed")
	}
	for _, call := range env.engine.callsFor("delete_index") {
		if call.Key == "idx_solo" {
			t.Fatal("emptied index must not be dropped from the engine again")
		}
	}
}

func TestDuplicateIndexRemovedOnRewrite(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	for _, key := range []string{"author", "title"} {
		if _, err := c.createAttribute(databaseId, collectionId, stringAttribute(key)); err != nil {
			t.Fatal(err)
		}
	}
	attrId, err := c.createAttribute(databaseId, collectionId, stringAttribute("year"))
	if err != nil {
		t.Fatal(err)
	}

	keptIdx, err := c.createIndex(databaseId, collectionId, "idx_kept", []schema.IndexColumn{
		{Key: "author", Length: 0, Order: "ASC"},
		{Key: "title", Length: 0, Order: "ASC"},
	})
	if err != nil {
		t.Fatal(err)
	}

	dupIdx, err := c.createIndex(databaseId, collectionId, "idx_dup", []schema.IndexColumn{
		{Key: "author", Length: 0, Order: "ASC"},
		{Key: "year", Length: 0, Order: "ASC"},
		{Key: "title", Length: 0, Order: "ASC"},
	})
	if err != nil {
		t.Fatal(err)
	}

	env.drainJobs(t)

	if err := c.deleteAttribute(databaseId, collectionId, attrId); err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	// After the rewrite idx_dup would collapse into idx_kept's signature, so
	// it is removed entirely, engine included.
	if _, err := c.getIndex(databaseId, collectionId, dupIdx); err == nil {
		t.Fatal("expected duplicate index row to be removed")
	}

	droppedDup := false
	for _, call := range env.engine.callsFor("delete_index") {
		if call.Key == "idx_dup" {
			droppedDup = true
		}
	}
	if !droppedDup {
		t.Fatal("expected duplicate index to be dropped from the engine")
	}

	if _, err := c.getIndex(databaseId, collectionId, keptIdx); err != nil {
		t.Fatalf("surviving index must remain: %v", err)
	}
}

func TestDeleteIndexRedeliveryIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	c := env.newClient()

	databaseId, collectionId := setupCollection(t, env, &c)

	if _, err := c.createAttribute(databaseId, collectionId, stringAttribute("title")); err != nil {
		t.Fatal(err)
	}
	indexId, err := c.createIndex(databaseId, collectionId, "idx_title", []schema.IndexColumn{
		{Key: "title", Length: 0, Order: "ASC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	if err := c.deleteIndex(databaseId, collectionId, indexId); err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)

	var database schema.Database
	if result := env.db.First(&database, "id = ?", databaseId); result.Error != nil {
		t.Fatal(result.Error)
	}

	// Replay the delete as a redelivered message.
	err = env.jobs.Publish(queue.Message{
		Type:         queue.DeleteIndex,
		ProjectId:    database.ProjectId,
		DatabaseId:   databaseId,
		CollectionId: collectionId,
		DocumentId:   indexId,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.drainJobs(t)
}

func TestInvalidPayloadLeftOnQueue(t *testing.T) {
	env := setupTestEnv(t)

	if err := env.jobs.Publish("not a schema mutation"); err != nil {
		t.Fatal(err)
	}

	if err := env.jobs.Drain(env.worker.Handler()); err == nil {
		t.Fatal("expected invalid payload to be rejected")
	}

	if env.jobs.Len() != 1 {
		t.Fatal("rejected message must stay queued for redelivery")
	}
}
