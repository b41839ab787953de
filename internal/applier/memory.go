package applier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"peopleops/internal/changereq/models"
	dErrors "peopleops/pkg/domain-errors"
)

// Collection is an in-memory document collection satisfying the Applier
// contract. It backs dev mode and tests; real domain modules persist their
// own entities.
type Collection struct {
	mu   sync.RWMutex
	docs map[string]models.Document
}

func NewCollection() *Collection {
	return &Collection{docs: make(map[string]models.Document)}
}

// Seed inserts a document directly, bypassing the change workflow. Test and
// dev fixture helper.
func (c *Collection) Seed(targetID string, doc models.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[targetID] = doc.Clone()
}

func (c *Collection) Apply(_ context.Context, _ models.Module, _ string, action models.Action, targetID string, payload models.Document) (models.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch action {
	case models.ActionCreate:
		// Server-assigned defaults make appliedResult differ from the payload,
		// matching what real domain stores do.
		doc := payload.Clone()
		doc["id"] = uuid.NewString()
		doc["revision"] = 1
		doc["createdAt"] = now
		doc["updatedAt"] = now
		c.docs[doc["id"].(string)] = doc
		return doc.Clone(), nil

	case models.ActionUpdate:
		existing, ok := c.docs[targetID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "target not found: "+targetID)
		}
		doc := existing.Clone()
		for k, v := range payload {
			doc[k] = v
		}
		if rev, ok := doc["revision"].(int); ok {
			doc["revision"] = rev + 1
		}
		doc["updatedAt"] = now
		c.docs[targetID] = doc
		return doc.Clone(), nil

	case models.ActionDelete:
		existing, ok := c.docs[targetID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "target not found: "+targetID)
		}
		delete(c.docs, targetID)
		return existing.Clone(), nil
	}

	return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported action: %s", action))
}

func (c *Collection) Read(_ context.Context, _ models.Module, _ string, targetID string) (models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[targetID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "target not found: "+targetID)
	}
	return doc.Clone(), nil
}
