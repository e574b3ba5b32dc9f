package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
	"github.com/garyjia/hr-orchestrator/internal/domain/failure"
	domainwf "github.com/garyjia/hr-orchestrator/internal/domain/workflow"
	"github.com/garyjia/hr-orchestrator/pkg/utils"
)

// lifecycleFor positions the instance state machine at the instance's status
func lifecycleFor(inst *entity.WorkflowInstance) (domainwf.StateMachine, error) {
	current := domainwf.State(inst.Status)
	if !current.IsValid() {
		return nil, failure.Validationf("instance #%d has invalid status %q", inst.ID, inst.Status)
	}
	return domainwf.NewInstanceLifecycle(current, domainwf.State(inst.PausedFromStatus)), nil
}

// ValidateDefinition checks struct tags and the references between steps
func ValidateDefinition(def *entity.WorkflowDefinition) error {
	if def == nil {
		return failure.Validationf("definition is required")
	}
	if err := utils.Validator().Struct(def); err != nil {
		return failure.FromValidator(err)
	}

	ids := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if ids[s.ID] {
			return failure.Validationf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}

	for i := range def.Steps {
		s := &def.Steps[i]
		if !s.Type.IsValid() {
			return failure.Validationf("step %q has unknown type %q", s.ID, s.Type)
		}
		if s.Next != "" && !ids[s.Next] {
			return failure.Validationf("step %q routes to unknown step %q", s.ID, s.Next)
		}
		for _, b := range s.Branches {
			if !ids[b.Goto] {
				return failure.Validationf("step %q branches to unknown step %q", s.ID, b.Goto)
			}
		}
		if err := validateConfig(s); err != nil {
			return err
		}
	}
	return nil
}

func validateConfig(s *entity.StepDefinition) error {
	cfg := s.Config
	switch s.Type {
	case entity.StepTypeCreateTask:
		if len(cfg.Tasks) == 0 {
			return failure.Validationf("step %q creates no tasks", s.ID)
		}
		for i, t := range cfg.Tasks {
			if t.DependsOn != nil && (*t.DependsOn < 0 || *t.DependsOn >= i) {
				return failure.Validationf("step %q task %d depends on task %d which is not declared before it", s.ID, i, *t.DependsOn)
			}
		}
	case entity.StepTypeAssignTasks:
		if cfg.AssigneeID.IsZero() {
			return failure.Validationf("step %q has no assignee", s.ID)
		}
	case entity.StepTypeApproval:
		if cfg.Approval == nil {
			return failure.Validationf("step %q has no approval config", s.ID)
		}
	case entity.StepTypeNotification:
		if cfg.Notification == nil || cfg.Notification.Recipient.IsZero() {
			return failure.Validationf("step %q has no notification recipient", s.ID)
		}
	case entity.StepTypeAction:
		if cfg.Action == nil || cfg.Action.RecordID.IsZero() {
			return failure.Validationf("step %q has no action target", s.ID)
		}
	case entity.StepTypeSetVariable:
		if len(cfg.Assignments) == 0 {
			return failure.Validationf("step %q assigns nothing", s.ID)
		}
	}
	return nil
}

// definitionCache keeps loaded definitions for a limited time. Definitions are immutable once
// stored, so expiry only bounds memory.
type definitionCache struct {
	repo   port.DefinitionRepository
	expiry time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	defs       map[int64]*entity.WorkflowDefinition
	lastAccess map[int64]time.Time
}

func newDefinitionCache(repo port.DefinitionRepository, expiry time.Duration, now func() time.Time) *definitionCache {
	return &definitionCache{
		repo:       repo,
		expiry:     expiry,
		now:        now,
		defs:       make(map[int64]*entity.WorkflowDefinition),
		lastAccess: make(map[int64]time.Time),
	}
}

func (c *definitionCache) get(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	c.mu.RLock()
	def, ok := c.defs[id]
	last := c.lastAccess[id]
	c.mu.RUnlock()

	now := c.now()
	if ok && now.Sub(last) < c.expiry {
		c.mu.Lock()
		c.lastAccess[id] = now
		c.mu.Unlock()
		return def, nil
	}

	def, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(def)
	return def, nil
}

func (c *definitionCache) put(def *entity.WorkflowDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.defs[def.ID] = def
	c.lastAccess[def.ID] = now

	for id, at := range c.lastAccess {
		if now.Sub(at) >= c.expiry {
			delete(c.defs, id)
			delete(c.lastAccess, id)
		}
	}
}

// resolve returns the stored definition for def, creating it when it has no id and no
// definition with the same name and version exists
func (c *definitionCache) resolve(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if def == nil {
		return nil, failure.Validationf("definition is required")
	}
	if def.ID != 0 {
		return c.get(ctx, def.ID)
	}
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}

	if def.Version == 0 {
		def.Version = 1
	}
	existing, err := c.repo.FindByNameVersion(ctx, def.Name, def.Version)
	if err == nil {
		c.put(existing)
		return existing, nil
	}
	if !errors.Is(err, failure.ErrNotFound) {
		return nil, err
	}

	if err := c.repo.Create(ctx, def); err != nil {
		return nil, err
	}
	c.put(def)
	return def, nil
}
