package definition

import (
	"fmt"
	"time"

	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/registry"
	"github.com/journeyhq/journey/scheduler"
	"github.com/patrickmn/go-cache"
)

// Service fronts the definition store with validation and a short-lived
// read cache. Definitions are read on every trigger evaluation, so the cache
// keeps the matcher off redis for the hot path.
type Service interface {
	Save(def model.FlowDefinition) error
	Delete(name string) error
	Get(name string) (*model.FlowDefinition, error)
	List() ([]model.FlowDefinition, error)
	Validate(def model.FlowDefinition) error
}

type serviceImpl struct {
	dao      persistence.FlowDefinitionDao
	handlers *registry.Registry
	cache    *cache.Cache
}

func NewService(dao persistence.FlowDefinitionDao, handlers *registry.Registry) Service {
	return &serviceImpl{
		dao:      dao,
		handlers: handlers,
		cache:    cache.New(1*time.Minute, 5*time.Minute),
	}
}

const listCacheKey = "__list__"

func (s *serviceImpl) Save(def model.FlowDefinition) error {
	if err := s.Validate(def); err != nil {
		return err
	}
	if err := s.dao.Save(def); err != nil {
		return err
	}
	s.cache.Delete(def.Name)
	s.cache.Delete(listCacheKey)
	return nil
}

func (s *serviceImpl) Delete(name string) error {
	if err := s.dao.Delete(name); err != nil {
		return err
	}
	s.cache.Delete(name)
	s.cache.Delete(listCacheKey)
	return nil
}

func (s *serviceImpl) Get(name string) (*model.FlowDefinition, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached.(*model.FlowDefinition), nil
	}
	def, err := s.dao.Get(name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, def, cache.DefaultExpiration)
	return def, nil
}

func (s *serviceImpl) List() ([]model.FlowDefinition, error) {
	if cached, ok := s.cache.Get(listCacheKey); ok {
		return cached.([]model.FlowDefinition), nil
	}
	defs, err := s.dao.List()
	if err != nil {
		return nil, err
	}
	s.cache.Set(listCacheKey, defs, cache.DefaultExpiration)
	return defs, nil
}

func (s *serviceImpl) Validate(def model.FlowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if err := validateTrigger(def.Trigger); err != nil {
		return fmt.Errorf("flow %s: %w", def.Name, err)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("flow %s has no steps", def.Name)
	}
	return s.validateSteps(def.Name, def.Steps)
}

func validateTrigger(trigger model.Trigger) error {
	switch trigger.Kind {
	case model.TRIGGER_NOW:
		return nil
	case model.TRIGGER_AT:
		if trigger.At <= 0 {
			return fmt.Errorf("at trigger requires a timestamp")
		}
	case model.TRIGGER_EVENT:
		if trigger.EventType == "" {
			return fmt.Errorf("event trigger requires an event type")
		}
	case model.TRIGGER_PROPERTY:
		if trigger.PropertyKey == "" {
			return fmt.Errorf("property trigger requires a property key")
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", trigger.Kind)
	}
	return nil
}

func (s *serviceImpl) validateSteps(flowName string, steps []model.Step) error {
	for i, step := range steps {
		switch step.Kind {
		case model.STEP_ACTION:
			if !s.handlers.Has(step.Handler) {
				return fmt.Errorf("flow %s step %d: handler %s not registered", flowName, i, step.Handler)
			}
		case model.STEP_DECISION:
			if len(step.Branches) == 0 {
				return fmt.Errorf("flow %s step %d: decision has no branches", flowName, i)
			}
			for b, branch := range step.Branches {
				if emptyPredicate(branch.When) {
					return fmt.Errorf("flow %s step %d branch %d: missing condition", flowName, i, b)
				}
				if err := s.validateSteps(flowName, branch.Steps); err != nil {
					return err
				}
			}
			if err := s.validateSteps(flowName, step.Else); err != nil {
				return err
			}
		case model.STEP_DELAY:
			if step.Delay == nil {
				return fmt.Errorf("flow %s step %d: delay step without a delay spec", flowName, i)
			}
			if err := validateDelay(step.Delay); err != nil {
				return fmt.Errorf("flow %s step %d: %w", flowName, i, err)
			}
		default:
			return fmt.Errorf("flow %s step %d: unknown step kind %q", flowName, i, step.Kind)
		}
	}
	return nil
}

func validateDelay(spec *model.DelaySpec) error {
	switch spec.Kind {
	case model.DELAY_RELATIVE:
		if spec.DurationSeconds <= 0 {
			return fmt.Errorf("relative delay requires a positive duration")
		}
	case model.DELAY_LOCAL:
		if _, _, _, err := scheduler.ParseWallClock(spec.WallClock); err != nil {
			return err
		}
	case model.DELAY_EVENT:
		if spec.Event == nil || emptyPredicate(*spec.Event) {
			return fmt.Errorf("until-event delay requires an event predicate")
		}
	default:
		return fmt.Errorf("unknown delay kind %q", spec.Kind)
	}
	return nil
}

func emptyPredicate(p model.Predicate) bool {
	return p.Path == "" && p.Expr == "" && len(p.All) == 0 && len(p.Any) == 0 && p.Not == nil
}
