package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/metrics"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/util"
	"go.uber.org/zap"
)

const instanceMemberPrefix = "instance:"
const triggerMemberPrefix = "trigger:"

// DurabilityError means the wake queue and the instance records disagree.
// Losing a wake silently would break the temporal guarantee, so this class
// halts the scheduler instead of being swallowed.
type DurabilityError struct {
	Member string
	Err    error
}

func (e DurabilityError) Error() string {
	return fmt.Sprintf("wake queue durability violation on member %s: %v", e.Member, e.Err)
}

// Scheduler is the durable wake queue front. Wake times are stored in redis
// keyed by wake-at; resumption is at-least-once and never earlier than the
// target. The clock is injected so tests can drive time deterministically.
type Scheduler struct {
	queue     persistence.WakeQueue
	instances persistence.InstanceDao
	eventBus  *bus.Bus
	clk       clock.Clock
	batchSize int
	interval  int // seconds between polls
	fatal     func(error)

	mu     sync.Mutex
	halted bool

	stop chan struct{}
	wg   *sync.WaitGroup
	tick *util.TickWorker
}

func New(queue persistence.WakeQueue, instances persistence.InstanceDao, eventBus *bus.Bus, clk clock.Clock, intervalSeconds int, batchSize int, fatal func(error), wg *sync.WaitGroup) *Scheduler {
	return &Scheduler{
		queue:     queue,
		instances: instances,
		eventBus:  eventBus,
		clk:       clk,
		batchSize: batchSize,
		interval:  intervalSeconds,
		fatal:     fatal,
		stop:      make(chan struct{}),
		wg:        wg,
	}
}

func (s *Scheduler) Clock() clock.Clock {
	return s.clk
}

// Schedule registers a wake for an instance. wakeAt is unix millis; the same
// value is stored on the instance record so the queue can be rebuilt from
// instances alone.
func (s *Scheduler) Schedule(instanceId string, wakeAt int64) error {
	return s.queue.Push(instanceMemberPrefix+instanceId, wakeAt)
}

// ScheduleTrigger registers a wake for an At-trigger flow firing.
func (s *Scheduler) ScheduleTrigger(flowName string, wakeAt int64) error {
	return s.queue.Push(triggerMemberPrefix+flowName, wakeAt)
}

func (s *Scheduler) Cancel(instanceId string) error {
	return s.queue.Remove(instanceMemberPrefix + instanceId)
}

// Rebuild re-registers wakes from persisted instance records after restart.
func (s *Scheduler) Rebuild() error {
	waiting, err := s.instances.ListSuspended()
	if err != nil {
		return err
	}
	for _, instance := range waiting {
		if instance.WakeAt == 0 {
			continue
		}
		if err := s.Schedule(instance.Id, instance.WakeAt); err != nil {
			return err
		}
	}
	if len(waiting) > 0 {
		logger.Info("rebuilt wake queue from instance records", zap.Int("wakes", len(waiting)))
	}
	return nil
}

// Poll pops every due wake and publishes resume notifications. Exposed so
// tests and the tick worker share one code path.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	now := s.clk.Now().UnixMilli()
	members, err := s.queue.PopDue(now, s.batchSize)
	if err != nil {
		logger.Error("error polling wake queue", zap.Error(err))
		return
	}
	for _, member := range members {
		s.fire(member, now)
	}
}

func (s *Scheduler) fire(member string, now int64) {
	switch {
	case strings.HasPrefix(member, instanceMemberPrefix):
		instanceId := strings.TrimPrefix(member, instanceMemberPrefix)
		instance, err := s.instances.Get(instanceId)
		if err != nil {
			if _, ok := err.(persistence.NotFoundError); ok {
				s.halt(DurabilityError{Member: member, Err: err})
				return
			}
			logger.Error("error loading instance for wake", zap.String("instance", instanceId), zap.Error(err))
			// leave the wake in place for the next poll
			_ = s.queue.Push(member, now)
			return
		}
		if instance.Status.Terminal() {
			logger.Debug("dropping wake for terminal instance", zap.String("instance", instanceId))
			return
		}
		metrics.ObserveWakeLag(now - instance.WakeAt)
		s.eventBus.Publish(bus.Message{Topic: bus.TOPIC_WAKE, Wake: &bus.Wake{
			InstanceId: instance.Id,
			ContactId:  instance.ContactId,
			At:         instance.WakeAt,
		}})
	case strings.HasPrefix(member, triggerMemberPrefix):
		flowName := strings.TrimPrefix(member, triggerMemberPrefix)
		s.eventBus.Publish(bus.Message{Topic: bus.TOPIC_WAKE, Wake: &bus.Wake{
			FlowName: flowName,
			At:       now,
		}})
	default:
		s.halt(DurabilityError{Member: member, Err: fmt.Errorf("unrecognized wake member")})
	}
}

func (s *Scheduler) halt(err error) {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	logger.Error("scheduler halted", zap.Error(err))
	if s.fatal != nil {
		s.fatal(err)
	}
}

func (s *Scheduler) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

func (s *Scheduler) Start() {
	s.tick = util.NewTickWorker("wake-scheduler", time.Duration(s.interval)*time.Second, s.stop, s.Poll, s.wg)
	s.tick.Start()
}

func (s *Scheduler) Stop() {
	if s.tick != nil && s.tick.IsRunning() {
		s.tick.Stop()
	}
}

// ResolveDelay picks the wake instant for an instance entering a delay,
// using the contact's location when the flow runs on local time.
func ResolveDelay(spec *model.DelaySpec, entryMillis int64, loc *time.Location) (int64, error) {
	entry := time.UnixMilli(entryMillis)
	wake, err := ResolveWakeAt(spec, entry, loc)
	if err != nil {
		return 0, err
	}
	return wake.UnixMilli(), nil
}
