package completion

import (
	"context"
	"sync"

	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"go.uber.org/zap"
)

// Aggregator tracks completion groups: the set of instances one cause
// spawned, plus child causes chained from actions those instances fired. A
// group resolves exactly once, when no member is non-terminal and every
// child group has resolved. Group state is written through to storage so a
// continuation survives restart and is resumable by cause id.
type Aggregator struct {
	mu      sync.Mutex
	dao     persistence.CompletionDao
	groups  map[string]*group
	byInst  map[string][]string // instance id -> cause ids it belongs to
	waiters map[string][]chan struct{}
}

type group struct {
	causeId  string
	pending  map[string]struct{}
	children map[string]struct{}
	parent   string
	resolved bool
}

func NewAggregator(dao persistence.CompletionDao) *Aggregator {
	return &Aggregator{
		dao:     dao,
		groups:  make(map[string]*group),
		byInst:  make(map[string][]string),
		waiters: make(map[string][]chan struct{}),
	}
}

// Restore loads every unresolved group from storage into the in-memory
// index. Called once on startup before any continuation is re-armed.
func (a *Aggregator) Restore() error {
	records, err := a.dao.ListUnresolved()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, record := range records {
		g := &group{
			causeId:  record.CauseId,
			pending:  make(map[string]struct{}, len(record.Members)),
			children: make(map[string]struct{}, len(record.Children)),
			parent:   record.Parent,
		}
		for _, m := range record.Members {
			g.pending[m] = struct{}{}
			a.byInst[m] = append(a.byInst[m], record.CauseId)
		}
		for _, c := range record.Children {
			g.children[c] = struct{}{}
		}
		a.groups[record.CauseId] = g
	}
	logger.Info("restored completion groups", zap.Int("count", len(records)))
	return nil
}

// Open registers a group for a cause and its spawned members. A cause that
// spawned nothing resolves immediately.
func (a *Aggregator) Open(causeId string, members []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open(causeId, "", members)
}

// OpenChild registers a group whose resolution chains into a parent group:
// the parent cannot resolve until the child does. Models "do X when all
// flows handling event Y complete" for events fired mid-flow.
func (a *Aggregator) OpenChild(parentCause string, childCause string, members []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if parent, ok := a.groups[parentCause]; ok && !parent.resolved {
		parent.children[childCause] = struct{}{}
		a.open(childCause, parentCause, members)
		a.persist(parent)
		return
	}
	// parent already resolved or never opened; the child stands alone
	a.open(childCause, "", members)
}

func (a *Aggregator) open(causeId string, parent string, members []string) {
	g := &group{
		causeId:  causeId,
		pending:  make(map[string]struct{}, len(members)),
		children: make(map[string]struct{}),
		parent:   parent,
	}
	for _, m := range members {
		g.pending[m] = struct{}{}
		a.byInst[m] = append(a.byInst[m], causeId)
	}
	a.groups[causeId] = g
	a.persist(g)
	a.tryResolve(g)
}

// unsealedMarker keeps a group pending between the instant a cause is
// published and the instant the trigger matcher has fanned it out, so a
// parent group can never resolve past an in-flight child cause.
const unsealedMarker = "__unsealed__"

// OpenPending registers a group for a cause whose fan-out has not happened
// yet. parentCause may be empty. The group stays unresolved until Seal.
func (a *Aggregator) OpenPending(parentCause string, causeId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if parentCause != "" {
		if parent, ok := a.groups[parentCause]; ok && !parent.resolved {
			parent.children[causeId] = struct{}{}
			a.persist(parent)
		} else {
			parentCause = ""
		}
	}
	a.open(causeId, parentCause, []string{unsealedMarker})
}

// Seal fixes the member set of a pending group once fan-out is done. Sealing
// with no members resolves the group immediately.
func (a *Aggregator) Seal(causeId string, members []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[causeId]
	if !ok {
		a.open(causeId, "", members)
		return
	}
	delete(g.pending, unsealedMarker)
	for _, m := range members {
		g.pending[m] = struct{}{}
		a.byInst[m] = append(a.byInst[m], causeId)
	}
	a.persist(g)
	a.tryResolve(g)
}

// OnResolve registers a continuation invoked exactly once when the cause
// resolves. A cause already resolved (or never opened) fires synchronously.
func (a *Aggregator) OnResolve(causeId string, fn func()) {
	a.mu.Lock()
	g, ok := a.groups[causeId]
	if !ok || g.resolved {
		a.mu.Unlock()
		fn()
		return
	}
	ch := make(chan struct{})
	a.waiters[causeId] = append(a.waiters[causeId], ch)
	a.mu.Unlock()
	go func() {
		<-ch
		fn()
	}()
}

// NotifyTerminal records that an instance reached a terminal status and
// resolves any group this empties. Also used when a spawned member is
// dropped by the duplicate-instance policy.
func (a *Aggregator) NotifyTerminal(instanceId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	causes := a.byInst[instanceId]
	delete(a.byInst, instanceId)
	for _, causeId := range causes {
		g, ok := a.groups[causeId]
		if !ok {
			continue
		}
		delete(g.pending, instanceId)
		a.persist(g)
		a.tryResolve(g)
	}
}

// Await blocks until the cause's group resolves or ctx is done. A cause with
// no open group is considered resolved.
func (a *Aggregator) Await(ctx context.Context, causeId string) error {
	a.mu.Lock()
	g, ok := a.groups[causeId]
	if !ok || g.resolved {
		a.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	a.waiters[causeId] = append(a.waiters[causeId], ch)
	a.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) Resolved(causeId string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[causeId]
	return !ok || g.resolved
}

func (a *Aggregator) tryResolve(g *group) {
	if g.resolved || len(g.pending) > 0 || len(g.children) > 0 {
		return
	}
	g.resolved = true
	a.persist(g)
	logger.Debug("completion group resolved", zap.String("cause", g.causeId))
	for _, ch := range a.waiters[g.causeId] {
		close(ch)
	}
	delete(a.waiters, g.causeId)
	if g.parent != "" {
		if parent, ok := a.groups[g.parent]; ok {
			delete(parent.children, g.causeId)
			a.persist(parent)
			a.tryResolve(parent)
		}
	}
}

func (a *Aggregator) persist(g *group) {
	record := &model.CompletionGroup{
		CauseId:  g.causeId,
		Members:  keys(g.pending),
		Children: keys(g.children),
		Parent:   g.parent,
		Resolved: g.resolved,
	}
	if err := a.dao.Save(record); err != nil {
		logger.Error("error persisting completion group", zap.String("cause", g.causeId), zap.Error(err))
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
