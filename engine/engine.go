package engine

import (
	"fmt"

	"repairedge/config"
	"repairedge/controller"
	"repairedge/mover"
	"repairedge/reconnect"
	"repairedge/records"
	"repairedge/statecache"
	"repairedge/store"
	"repairedge/workflow"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Engine builds the device sessions and the workflow machine and connects
// them through the EventBus.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	records    *records.Source
	cache      *statecache.Cache
	dialer     controller.Dialer
	logFn      LogFunc
	debugFn    LogFunc

	moverSess *mover.Session
	ctrlSess  *controller.Session
	machine   *workflow.Machine

	Events   *EventBus
	stopChan chan struct{}
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Records    *records.Source   // nil: cache-only source over DB
	StateCache *statecache.Cache // nil: no live snapshot
	Dialer     controller.Dialer // nil: Modbus TCP from config
	LogFunc    LogFunc
	Debug      bool
}

// New creates a new Engine. Call Start() to initialize and wire subsystems.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		records:    c.Records,
		cache:      c.StateCache,
		dialer:     c.Dialer,
		logFn:      logFn,
		debugFn:    debugFn,
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}
}

// Start creates the sessions and the workflow machine, wires event handlers
// and starts polling.
func (e *Engine) Start() error {
	addrs, err := controller.NewAddressMap(e.cfg.Controller.Addresses)
	if err != nil {
		return fmt.Errorf("controller addresses: %w", err)
	}
	if e.db == nil {
		return fmt.Errorf("engine: no database configured")
	}
	if e.records == nil {
		src, err := records.Open(config.RecordsConfig{}, e.db)
		if err != nil {
			return fmt.Errorf("records: %w", err)
		}
		e.records = src
	}
	if e.dialer == nil {
		e.dialer = controller.TCPDialer{
			Address: e.cfg.Controller.Address,
			SlaveID: e.cfg.Controller.SlaveID,
			Timeout: e.cfg.Controller.Timeout,
		}
	}

	policy := reconnect.FromConfig(e.cfg.Reconnect)
	e.moverSess = mover.NewSession(e.cfg.Mover, policy, &moverEmitter{bus: e.Events})
	e.ctrlSess = controller.NewSession(e.cfg.Controller, addrs, e.dialer, policy, &controllerEmitter{bus: e.Events})
	e.machine = workflow.NewMachine(workflow.Deps{
		Queue:      e.db,
		Source:     e.records,
		Mover:      e.moverSess,
		Controller: e.ctrlSess,
		Points:     e.cfg,
		Emitter:    &workflowEmitter{bus: e.Events},
		Debug:      e.debugFn,
	}, e.cfg.Workflow)

	e.wireEventHandlers()

	e.moverSess.Start()
	e.ctrlSess.Start()

	e.logFn("Engine started: station=%s mover=%s controller=%s", e.cfg.StationID, e.cfg.Mover.Address, e.cfg.Controller.Address)
	return nil
}

// Stop shuts down all subsystems gracefully.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
		return
	default:
		close(e.stopChan)
	}

	if e.moverSess != nil {
		e.moverSess.Stop()
	}
	if e.ctrlSess != nil {
		e.ctrlSess.Stop()
	}
	e.Events.Close()

	e.logFn("Engine stopped")
}

// RequestTask asks the workflow to start a task for side. The outcome is
// reported through task-started or task-error events.
func (e *Engine) RequestTask(side, source string) {
	e.Events.Emit(Event{Type: EventTaskStartRequested, Payload: TaskStartRequestedEvent{Side: side, Source: source}})
}

// AbortTask abandons the active task.
func (e *Engine) AbortTask(detail string) error {
	return e.machine.Abort(detail)
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Machine returns the workflow state machine.
func (e *Engine) Machine() *workflow.Machine { return e.machine }

// MoverSession returns the mover session.
func (e *Engine) MoverSession() *mover.Session { return e.moverSess }

// ControllerSession returns the controller session.
func (e *Engine) ControllerSession() *controller.Session { return e.ctrlSess }
