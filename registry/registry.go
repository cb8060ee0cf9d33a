package registry

import (
	"fmt"
	"sync"

	"github.com/journeyhq/journey/model"
)

type ResultKind int

const (
	SUCCESS ResultKind = iota + 1
	RETRYABLE
	FATAL
)

// Result carries the outcome of one handler execution. Vars are merged into
// the instance's variable scope on success. AwaitCause, when set, suspends
// the instance until that completion group resolves instead of advancing.
type Result struct {
	Kind       ResultKind
	Err        error
	Vars       map[string]any
	AwaitCause string
}

func Ok() Result {
	return Result{Kind: SUCCESS}
}

func Retry(err error) Result {
	return Result{Kind: RETRYABLE, Err: err}
}

func Fail(err error) Result {
	return Result{Kind: FATAL, Err: err}
}

// Context is the scope a handler executes in. Contact is a fresh snapshot
// taken by the engine just before the step runs; Params are already resolved
// against the instance variables.
type Context struct {
	InstanceId string
	FlowName   string
	ContactId  string
	CauseId    string
	Contact    *model.Contact
	Params     map[string]any
}

type Handler interface {
	Name() string
	Execute(ctx Context) Result
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

func (r *Registry) Register(handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[handler.Name()]; ok {
		return fmt.Errorf("handler %s already registered", handler.Name())
	}
	r.handlers[handler.Name()] = handler
	return nil
}

func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("handler %s not registered", name)
	}
	return handler, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}
