package tenantdb

import "sync"

// documentCache is a process local cache of serialized documents keyed by
// scope and document id. Invalidation must tolerate absent entries since a
// redelivered message may purge a document that was never cached.
type documentCache struct {
	mu      sync.Mutex
	entries map[string]map[string][]byte
}

func newDocumentCache() *documentCache {
	return &documentCache{entries: make(map[string]map[string][]byte)}
}

func (c *documentCache) put(scope, documentId string, doc []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[scope] == nil {
		c.entries[scope] = make(map[string][]byte)
	}
	c.entries[scope][documentId] = doc
}

func (c *documentCache) get(scope, documentId string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.entries[scope][documentId]
	return doc, ok
}

func (c *documentCache) purge(scope, documentId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries[scope], documentId)
}

func (c *documentCache) purgeScope(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, scope)
}
