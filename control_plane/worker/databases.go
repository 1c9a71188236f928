package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"corebase/control_plane/auth"
	"corebase/control_plane/engine"
	"corebase/control_plane/queue"
	"corebase/control_plane/realtime"
	"corebase/control_plane/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrInvalidPayload = errors.New("invalid message payload")

const (
	attributeUpdateEvent = "databases.{databaseId}.collections.{collectionId}.attributes.{attributeId}.update"
	attributeDeleteEvent = "databases.{databaseId}.collections.{collectionId}.attributes.{attributeId}.delete"
	indexUpdateEvent     = "databases.{databaseId}.collections.{collectionId}.indexes.{indexId}.update"
	indexDeleteEvent     = "databases.{databaseId}.collections.{collectionId}.indexes.{indexId}.delete"
)

// Worker applies pending attribute and index mutations to the tenant data
// engine and records the outcome in the catalog. One message is processed at
// a time; a message is never left in status processing once handled.
type Worker struct {
	db        *gorm.DB
	engines   engine.Resolver
	publisher realtime.Publisher
	scope     auth.Scope
	locks     *collectionLocks

	handlers map[queue.OperationType]func(msg queue.Message, eng engine.Client)
}

func NewWorker(db *gorm.DB, engines engine.Resolver, publisher realtime.Publisher, scope auth.Scope) *Worker {
	w := &Worker{
		db:        db,
		engines:   engines,
		publisher: publisher,
		scope:     scope,
		locks:     newCollectionLocks(),
	}

	w.handlers = map[queue.OperationType]func(msg queue.Message, eng engine.Client){
		queue.CreateAttribute: w.createAttribute,
		queue.DeleteAttribute: w.deleteAttribute,
		queue.CreateIndex:     w.createIndex,
		queue.DeleteIndex:     w.deleteIndex,
	}

	return w
}

// Handler adapts the worker to the queue consumer contract.
func (w *Worker) Handler() queue.Handler {
	return func(body []byte) error {
		var msg queue.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return w.Process(msg)
	}
}

// Process dispatches one message. Input errors are returned to the caller
// before any mutation; engine errors are recovered into terminal catalog
// statuses and the message is still considered processed.
func (w *Worker) Process(msg queue.Message) error {
	if err := w.scope.Require(); err != nil {
		return err
	}

	if msg.CollectionId == uuid.Nil {
		return fmt.Errorf("%w: missing collection", ErrInvalidPayload)
	}
	if msg.DocumentId == uuid.Nil {
		return fmt.Errorf("%w: missing document", ErrInvalidPayload)
	}

	project, err := schema.GetProject(msg.ProjectId, w.db)
	if err != nil {
		return fmt.Errorf("error resolving project for message: %w", err)
	}

	eng, err := w.engines.Engine(project.Namespace)
	if err != nil {
		return fmt.Errorf("error resolving data engine for namespace %v: %w", project.Namespace, err)
	}

	handler, ok := w.handlers[msg.Type]
	if !ok {
		// Unknown kinds are dropped so newer producers do not wedge the queue.
		slog.Error("no database operation for type", "type", msg.Type)
		return nil
	}

	handler(msg, eng)

	return nil
}

func (w *Worker) eventParams(msg queue.Message) map[string]string {
	return map[string]string{
		"databaseId":   msg.DatabaseId.String(),
		"collectionId": msg.CollectionId.String(),
		"attributeId":  msg.DocumentId.String(),
		"indexId":      msg.DocumentId.String(),
	}
}

func documentPayload(doc interface{}) map[string]interface{} {
	data, err := json.Marshal(doc)
	if err != nil {
		slog.Error("error serializing document payload", "error", err)
		return map[string]interface{}{}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("error building document payload", "error", err)
		return map[string]interface{}{}
	}

	return payload
}

func (w *Worker) publish(events []string, payload map[string]interface{}, msg queue.Message) {
	target := realtime.FromPayload(events[0], msg.ProjectId.String())

	err := w.publisher.Publish(realtime.Message{
		ProjectId: "console",
		Events:    events,
		Payload:   payload,
		Channels:  target.Channels,
		Roles:     target.Roles,
		Options: realtime.Options{
			ProjectId:    msg.ProjectId.String(),
			DatabaseId:   msg.DatabaseId.String(),
			CollectionId: msg.CollectionId.String(),
		},
	})
	if err != nil {
		// Best effort: a lost notification never rolls back the mutation.
		slog.Error("error publishing realtime message", "events", events[0], "error", err)
	}
}

func attributeSpec(attr schema.Attribute) engine.AttributeSpec {
	return engine.AttributeSpec{
		Key:           attr.Key,
		Type:          attr.Type,
		Size:          attr.Size,
		Required:      attr.Required,
		Default:       attr.Default,
		Signed:        attr.Signed,
		Array:         attr.Array,
		Format:        attr.Format,
		FormatOptions: attr.FormatOptions,
		Filters:       attr.Filters,
	}
}

func indexSpec(index schema.Index) engine.IndexSpec {
	columns := make([]engine.IndexColumn, 0, len(index.Columns))
	for _, col := range index.Columns {
		columns = append(columns, engine.IndexColumn{Key: col.Key, Length: col.Length, Order: col.Order})
	}
	return engine.IndexSpec{Key: index.Key, Type: index.Type, Columns: columns}
}

func (w *Worker) updateAttributeStatus(attr *schema.Attribute, status string) {
	result := w.db.Model(&schema.Attribute{}).Where("id = ?", attr.Id).Update("status", status)
	if result.Error != nil {
		slog.Error("sql error updating attribute status", "attribute_id", attr.Id, "status", status, "error", result.Error)
		return
	}
	attr.Status = status
}

func (w *Worker) updateIndexStatus(index *schema.Index, status string) {
	result := w.db.Model(&schema.Index{}).Where("id = ?", index.Id).Update("status", status)
	if result.Error != nil {
		slog.Error("sql error updating index status", "index_id", index.Id, "status", status, "error", result.Error)
		return
	}
	index.Status = status
}

func (w *Worker) createAttribute(msg queue.Message, eng engine.Client) {
	events := realtime.GenerateEvents(attributeUpdateEvent, w.eventParams(msg))

	// Re-fetch the authoritative row: numeric precision and array ordering
	// may have drifted across the queue boundary.
	attr, err := schema.GetAttribute(msg.DocumentId, w.db)
	if err != nil {
		slog.Error("unable to load attribute for create", "attribute_id", msg.DocumentId, "error", err)
		return
	}

	defer func() {
		w.publish(events, documentPayload(attr), msg)
	}()

	table := engine.CollectionTable(msg.DatabaseId, msg.CollectionId)

	if err := eng.CreateAttribute(table, attributeSpec(attr)); err != nil {
		slog.Error("engine error creating attribute", "attribute_id", attr.Id, "key", attr.Key, "error", err)
		w.updateAttributeStatus(&attr, schema.StatusFailed)
	} else {
		w.updateAttributeStatus(&attr, schema.StatusAvailable)
	}

	if err := eng.PurgeCachedDocument(engine.DatabaseScope(msg.DatabaseId), msg.CollectionId.String()); err != nil {
		slog.Error("error purging cached collection document", "collection_id", msg.CollectionId, "error", err)
	}
}

func (w *Worker) deleteAttribute(msg queue.Message, eng engine.Client) {
	events := realtime.GenerateEvents(attributeDeleteEvent, w.eventParams(msg))

	attr, err := schema.GetAttribute(msg.DocumentId, w.db)
	if err != nil {
		if errors.Is(err, schema.ErrAttributeNotFound) {
			// Redelivery after a completed delete is a no-op.
			slog.Info("attribute already removed", "attribute_id", msg.DocumentId)
			return
		}
		slog.Error("unable to load attribute for delete", "attribute_id", msg.DocumentId, "error", err)
		return
	}

	unlock := w.locks.lock(msg.CollectionId)
	defer unlock()

	defer func() {
		w.publish(events, documentPayload(attr), msg)
	}()

	table := engine.CollectionTable(msg.DatabaseId, msg.CollectionId)

	// Possible statuses here: processing (never finished creating), deleting
	// (normal path), failed (was never created, nothing to remove in the
	// engine), stuck (previous removal attempt failed).
	removed := true
	if attr.Status != schema.StatusFailed {
		if err := eng.DeleteAttribute(table, attr.Key); err != nil {
			slog.Error("engine error deleting attribute", "attribute_id", attr.Id, "key", attr.Key, "error", err)
			removed = false
		}
	}

	if removed {
		result := w.db.Delete(&schema.Attribute{}, "id = ?", attr.Id)
		if result.Error != nil {
			slog.Error("sql error deleting attribute row", "attribute_id", attr.Id, "error", result.Error)
			w.updateAttributeStatus(&attr, schema.StatusStuck)
		}
	} else {
		w.updateAttributeStatus(&attr, schema.StatusStuck)
	}

	// The backing store rewrites its own indexes when a column goes away;
	// the catalog rows have to follow.
	w.rewriteIndexes(msg, eng, attr.Key)

	if err := eng.PurgeCachedDocument(engine.DatabaseScope(msg.DatabaseId), msg.CollectionId.String()); err != nil {
		slog.Error("error purging cached collection document", "collection_id", msg.CollectionId, "error", err)
	}
	if err := eng.PurgeCachedCollection(table); err != nil {
		slog.Error("error purging cached collection schema", "collection_id", msg.CollectionId, "error", err)
	}
}

// rewriteIndexes removes the deleted attribute key from every index on the
// collection. Removal is positional so duplicate keys or equal length/order
// values never cause a mis-aligned edit. Duplicate detection runs against an
// immutable snapshot of the pre-edit index set, so the outcome does not
// depend on iteration order.
func (w *Worker) rewriteIndexes(msg queue.Message, eng engine.Client, key string) {
	indexes, err := schema.ListCollectionIndexes(msg.CollectionId, w.db)
	if err != nil {
		slog.Error("unable to list indexes for rewrite", "collection_id", msg.CollectionId, "error", err)
		return
	}

	signatures := make(map[uuid.UUID]string, len(indexes))
	for _, index := range indexes {
		signatures[index.Id] = index.Signature()
	}

	for _, index := range indexes {
		position := -1
		for p, col := range index.Columns {
			if col.Key == key {
				position = p
				break
			}
		}
		if position < 0 {
			continue
		}

		index.Columns = slices.Delete(index.Columns, position, position+1)

		if len(index.Columns) == 0 {
			// The backing store already dropped the index with its last
			// column; only the catalog row remains.
			result := w.db.Delete(&schema.Index{}, "id = ?", index.Id)
			if result.Error != nil {
				slog.Error("sql error deleting emptied index row", "index_id", index.Id, "error", result.Error)
			}
			continue
		}

		duplicate := false
		for otherId, signature := range signatures {
			if otherId != index.Id && signature == index.Signature() {
				duplicate = true
				break
			}
		}

		if duplicate {
			w.removeIndexRow(msg, eng, index)
			continue
		}

		result := w.db.Model(&schema.Index{}).Where("id = ?", index.Id).Update("columns", index.Columns)
		if result.Error != nil {
			slog.Error("sql error persisting rewritten index", "index_id", index.Id, "error", result.Error)
		}
	}
}

func (w *Worker) createIndex(msg queue.Message, eng engine.Client) {
	events := realtime.GenerateEvents(indexUpdateEvent, w.eventParams(msg))

	index, err := schema.GetIndex(msg.DocumentId, w.db)
	if err != nil {
		slog.Error("unable to load index for create", "index_id", msg.DocumentId, "error", err)
		return
	}

	defer func() {
		w.publish(events, documentPayload(index), msg)
	}()

	table := engine.CollectionTable(msg.DatabaseId, msg.CollectionId)

	if err := eng.CreateIndex(table, indexSpec(index)); err != nil {
		slog.Error("engine error creating index", "index_id", index.Id, "key", index.Key, "error", err)
		w.updateIndexStatus(&index, schema.StatusFailed)
	} else {
		w.updateIndexStatus(&index, schema.StatusAvailable)
	}

	if err := eng.PurgeCachedDocument(engine.DatabaseScope(msg.DatabaseId), msg.CollectionId.String()); err != nil {
		slog.Error("error purging cached collection document", "collection_id", msg.CollectionId, "error", err)
	}
}

func (w *Worker) deleteIndex(msg queue.Message, eng engine.Client) {
	index, err := schema.GetIndex(msg.DocumentId, w.db)
	if err != nil {
		if errors.Is(err, schema.ErrIndexNotFound) {
			slog.Info("index already removed", "index_id", msg.DocumentId)
			return
		}
		slog.Error("unable to load index for delete", "index_id", msg.DocumentId, "error", err)
		return
	}

	w.removeIndexRow(msg, eng, index)
}

// removeIndexRow is shared between the delete-index operation and the
// duplicate-index cleanup during attribute deletion.
func (w *Worker) removeIndexRow(msg queue.Message, eng engine.Client, index schema.Index) {
	params := w.eventParams(msg)
	params["indexId"] = index.Id.String()
	events := realtime.GenerateEvents(indexDeleteEvent, params)

	defer func() {
		w.publish(events, documentPayload(index), msg)
	}()

	table := engine.CollectionTable(msg.DatabaseId, msg.CollectionId)

	removed := true
	if index.Status != schema.StatusFailed {
		if err := eng.DeleteIndex(table, index.Key); err != nil {
			slog.Error("engine error deleting index", "index_id", index.Id, "key", index.Key, "error", err)
			removed = false
		}
	}

	if removed {
		result := w.db.Delete(&schema.Index{}, "id = ?", index.Id)
		if result.Error != nil {
			slog.Error("sql error deleting index row", "index_id", index.Id, "error", result.Error)
			w.updateIndexStatus(&index, schema.StatusStuck)
		}
	} else {
		w.updateIndexStatus(&index, schema.StatusStuck)
	}

	if err := eng.PurgeCachedDocument(engine.DatabaseScope(msg.DatabaseId), msg.CollectionId.String()); err != nil {
		slog.Error("error purging cached collection document", "collection_id", msg.CollectionId, "error", err)
	}
}
