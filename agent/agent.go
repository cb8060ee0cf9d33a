package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/completion"
	"github.com/journeyhq/journey/config"
	"github.com/journeyhq/journey/definition"
	"github.com/journeyhq/journey/engine"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/persistence"
	redisp "github.com/journeyhq/journey/persistence/redis"
	"github.com/journeyhq/journey/registry"
	"github.com/journeyhq/journey/rest"
	"github.com/journeyhq/journey/scheduler"
	"github.com/journeyhq/journey/schema"
	"github.com/journeyhq/journey/service"
	"github.com/journeyhq/journey/trigger"
	"go.uber.org/zap"
)

// Agent assembles the full engine: storage, shard workers, scheduler,
// handler registry, matcher and the http surface.
type Agent struct {
	Config config.Config

	clk           clock.Clock
	contactSchema *schema.Schema
	dispatcher    *bus.Dispatcher
	eventBus      *bus.Bus

	instances persistence.InstanceDao
	contacts  persistence.PropertyStore
	events    persistence.EventLog
	segments  persistence.SegmentResolver

	aggregator       *completion.Aggregator
	sched            *scheduler.Scheduler
	handlers         *registry.Registry
	definitions      definition.Service
	engine           *engine.Engine
	matcher          *trigger.Matcher
	executionService *service.ExecutionService
	httpServer       *rest.Server

	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
		clk:    clock.New(),
	}
	setup := []func() error{
		a.setupSchema,
		a.setupDispatcher,
		a.setupStorage,
		a.setupScheduler,
		a.setupRegistry,
		a.setupDefinitionService,
		a.setupEngine,
		a.setupMatcher,
		a.setupSubscriptions,
		a.setupExecutionService,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupSchema() error {
	if a.Config.SchemaFile == "" {
		logger.Warn("no contact schema file configured, all property writes will be rejected")
		a.contactSchema = &schema.Schema{Fields: map[string]schema.Field{}}
		return nil
	}
	raw, err := os.ReadFile(a.Config.SchemaFile)
	if err != nil {
		return fmt.Errorf("reading schema file: %w", err)
	}
	sc := &schema.Schema{}
	if err := json.Unmarshal(raw, sc); err != nil {
		return fmt.Errorf("parsing schema file: %w", err)
	}
	a.contactSchema = sc
	return nil
}

func (a *Agent) setupDispatcher() error {
	a.dispatcher = bus.NewDispatcher(a.Config.ShardCount, a.Config.WorkerCapacity, &a.wg)
	a.dispatcher.Start()
	a.eventBus = bus.NewBus(a.dispatcher)
	return nil
}

func (a *Agent) setupStorage() error {
	conf := redisp.Config{
		Addrs:     a.Config.RedisConfig.Addrs,
		Namespace: a.Config.RedisConfig.Namespace,
	}
	a.instances = redisp.NewRedisInstanceDao(conf)
	a.contacts = redisp.NewRedisPropertyStore(conf, a.contactSchema)
	a.events = redisp.NewRedisEventLog(conf)
	a.segments = redisp.NewRedisSegmentResolver(conf)
	a.aggregator = completion.NewAggregator(redisp.NewRedisCompletionDao(conf))
	return nil
}

func (a *Agent) setupScheduler() error {
	queue := redisp.NewRedisWakeQueue(redisp.Config{
		Addrs:     a.Config.RedisConfig.Addrs,
		Namespace: a.Config.RedisConfig.Namespace,
	})
	a.sched = scheduler.New(queue, a.instances, a.eventBus, a.clk,
		a.Config.TickIntervalSeconds, a.Config.BatchSize,
		func(err error) {
			logger.Error("delay scheduler halted", zap.Error(err))
		}, &a.wg)
	return nil
}

func (a *Agent) setupRegistry() error {
	a.handlers = registry.NewRegistry()
	builtins := []registry.Handler{
		registry.NewSetPropertyHandler(a.contacts, a.eventBus, a.aggregator, a.clk),
		registry.NewFireEventHandler(a.events, a.eventBus, a.aggregator, a.clk),
		registry.NewWebhookHandler(),
		registry.NewScriptHandler(),
		registry.NewSendEmailHandler(&registry.LogProvider{Channel: "email"}),
		registry.NewSendSmsHandler(&registry.LogProvider{Channel: "sms"}),
	}
	for _, h := range builtins {
		if err := a.handlers.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// RegisterHandler adds a user action handler. Must be called before Start so
// definitions referencing it validate.
func (a *Agent) RegisterHandler(h registry.Handler) error {
	return a.handlers.Register(h)
}

func (a *Agent) setupDefinitionService() error {
	a.definitions = definition.NewService(redisp.NewRedisFlowDefinitionDao(redisp.Config{
		Addrs:     a.Config.RedisConfig.Addrs,
		Namespace: a.Config.RedisConfig.Namespace,
	}), a.handlers)
	return nil
}

func (a *Agent) setupEngine() error {
	reference := time.UTC
	if a.Config.ReferenceTimezone != "" {
		loc, err := time.LoadLocation(a.Config.ReferenceTimezone)
		if err != nil {
			return fmt.Errorf("invalid reference timezone %q: %w", a.Config.ReferenceTimezone, err)
		}
		reference = loc
	}
	tz := engine.NewTimezoneProvider(a.contacts, reference)
	a.engine = engine.New(a.instances, a.definitions, a.contacts, a.handlers,
		a.sched, a.aggregator, a.dispatcher, tz, a.clk,
		a.Config.RetryLimit, a.Config.RetryBackoffSeconds)
	return nil
}

func (a *Agent) setupMatcher() error {
	a.matcher = trigger.NewMatcher(a.definitions, a.engine, a.contacts,
		a.segments, a.aggregator, a.dispatcher)
	return nil
}

// Goal handling subscribes before trigger matching so a goal completion
// frees the contact's active slot ahead of the duplicate check on the same
// notification.
func (a *Agent) setupSubscriptions() error {
	a.eventBus.Subscribe(bus.TOPIC_EVENT, func(msg bus.Message) { a.engine.HandleEvent(msg.Event) })
	a.eventBus.Subscribe(bus.TOPIC_PROPERTY_CHANGE, func(msg bus.Message) { a.engine.HandlePropertyChange(msg.Change) })
	a.eventBus.Subscribe(bus.TOPIC_EVENT, func(msg bus.Message) { a.matcher.HandleEvent(msg.Event) })
	a.eventBus.Subscribe(bus.TOPIC_PROPERTY_CHANGE, func(msg bus.Message) { a.matcher.HandlePropertyChange(msg.Change) })
	a.eventBus.Subscribe(bus.TOPIC_WAKE, func(msg bus.Message) {
		if msg.Wake.InstanceId != "" {
			a.engine.HandleWake(msg.Wake)
		} else {
			a.matcher.HandleTriggerWake(msg.Wake)
		}
	})
	return nil
}

func (a *Agent) setupExecutionService() error {
	a.executionService = service.NewExecutionService(a.definitions, a.matcher,
		a.instances, a.contacts, a.events, a.aggregator, a.sched,
		a.eventBus, a.dispatcher, a.clk)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.executionService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	if err := a.engine.Recover(); err != nil {
		return fmt.Errorf("recovering suspended instances: %w", err)
	}
	a.sched.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server stopped", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.sched.Stop()
			return nil
		},
		func() error {
			a.dispatcher.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for shard workers to drain...")
	a.wg.Wait()
	logger.Sync()
	return nil
}
