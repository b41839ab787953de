// Package applier defines the Mutation Applier contract the Approval Engine
// consumes. Domain modules implement Applier for their own models; this core
// only requires all-or-nothing failure and the complete persisted
// representation on success.
package applier

import (
	"context"
	"fmt"
	"sync"

	"peopleops/internal/changereq/models"
	dErrors "peopleops/pkg/domain-errors"
)

// Applier executes the actual create/update/delete against domain data.
//
// Contract: a failed Apply must leave no partial write, and a successful
// Apply returns the complete persisted representation. Read returns the
// current persisted state of a target for before-snapshotting; it returns a
// not_found error when the target does not exist.
type Applier interface {
	Apply(ctx context.Context, module models.Module, modelName string, action models.Action, targetID string, payload models.Document) (models.Document, error)
	Read(ctx context.Context, module models.Module, modelName string, targetID string) (models.Document, error)
}

// Registry dispatches to the Applier registered for a module/model pair.
type Registry struct {
	mu       sync.RWMutex
	appliers map[string]Applier
}

func NewRegistry() *Registry {
	return &Registry{appliers: make(map[string]Applier)}
}

// Register binds a domain applier to a module/model pair. Later registrations
// replace earlier ones.
func (r *Registry) Register(module models.Module, modelName string, a Applier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appliers[registryKey(module, modelName)] = a
}

func (r *Registry) lookup(module models.Module, modelName string) (Applier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appliers[registryKey(module, modelName)]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound,
			fmt.Sprintf("no applier registered for %s/%s", module, modelName))
	}
	return a, nil
}

func (r *Registry) Apply(ctx context.Context, module models.Module, modelName string, action models.Action, targetID string, payload models.Document) (models.Document, error) {
	a, err := r.lookup(module, modelName)
	if err != nil {
		return nil, err
	}
	return a.Apply(ctx, module, modelName, action, targetID, payload)
}

func (r *Registry) Read(ctx context.Context, module models.Module, modelName string, targetID string) (models.Document, error) {
	a, err := r.lookup(module, modelName)
	if err != nil {
		return nil, err
	}
	return a.Read(ctx, module, modelName, targetID)
}

func registryKey(module models.Module, modelName string) string {
	return string(module) + "/" + modelName
}
