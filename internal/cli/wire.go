package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/actions"
	"github.com/PipeOpsHQ/coachflow/engine"
	"github.com/PipeOpsHQ/coachflow/loader"
	"github.com/PipeOpsHQ/coachflow/observe"
	otelsink "github.com/PipeOpsHQ/coachflow/observe/otel"
	observestore "github.com/PipeOpsHQ/coachflow/observe/store"
	eventsqlite "github.com/PipeOpsHQ/coachflow/observe/store/sqlite"
	"github.com/PipeOpsHQ/coachflow/prompt"
	"github.com/PipeOpsHQ/coachflow/state"
	statefactory "github.com/PipeOpsHQ/coachflow/state/factory"
	"github.com/PipeOpsHQ/coachflow/toolproc"
)

const observerBuffer = 256

// runtime holds everything a command may need. Fields are nil when the
// configuration leaves the component out.
type runtime struct {
	engine  *engine.Engine
	backend state.Backend
	tools   *toolproc.Manager
	outbox  *actions.Outbox

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// build opens the state backend, the tool process and the action sinks named
// by the configuration and assembles the engine on top of them.
func (a *app) build(ctx context.Context) (*runtime, error) {
	cfg := a.cfg
	rt := &runtime{}

	if n, err := prompt.LoadDir(cfg.Prompts.Dir); err != nil {
		return nil, fmt.Errorf("failed to load prompt overrides: %w", err)
	} else if n > 0 {
		a.logger.Info("prompt overrides loaded", zap.Int("count", n), zap.String("dir", cfg.Prompts.Dir))
	}

	provider, err := a.newProvider(ctx, cfg.Provider.Settings())
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	backend, err := statefactory.Open(ctx, cfg.State, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state backend: %w", err)
	}
	rt.backend = backend
	rt.closers = append(rt.closers, func() { _ = backend.Close() })

	opts := []engine.Option{
		engine.WithBackend(backend),
		engine.WithLogger(a.logger),
		engine.WithModel(cfg.Provider.Model),
		engine.WithCodeTimeout(cfg.Tools.CodeTimeout),
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
		engine.WithCompactionThreshold(cfg.Engine.CompactionThreshold),
	}

	var executors actions.Multi
	mode := strings.ToLower(cfg.Actions.Mode)

	if cfg.Tools.Enabled() {
		rt.tools = toolproc.NewManager(
			toolproc.CommandLauncher{Path: cfg.Tools.Command, Args: cfg.Tools.Args, Dir: cfg.Tools.Dir},
			toolproc.WithLogger(a.logger),
			toolproc.WithHandshakeTimeout(cfg.Tools.HandshakeTimeout),
			toolproc.WithCallTimeout(cfg.Tools.CallTimeout),
			toolproc.WithClientName("coachflow"),
		)
		manager := rt.tools
		rt.closers = append(rt.closers, func() { _ = manager.Close() })

		tools := toolproc.NewTools(manager)
		var l loader.Loader = loader.NewToolLoader(tools)
		if cfg.Profiles.Cache {
			l = loader.NewCachedLoader(l, backend, loader.WithTTL(cfg.Profiles.TTL), loader.WithLogger(a.logger))
		}
		opts = append(opts, engine.WithLoader(l), engine.WithCodeRunner(manager))

		if mode == "tools" || mode == "both" {
			executors = append(executors, actions.NewToolExecutor(tools, a.logger))
		}
	} else {
		a.logger.Warn("no tool process configured, context loading and actions are disabled")
	}

	if mode == "outbox" || mode == "both" {
		outbox, err := actions.NewOutbox(cfg.State.Redis.Addr,
			actions.WithOutboxPassword(cfg.State.Redis.Password),
			actions.WithOutboxDB(cfg.State.Redis.DB),
			actions.WithOutboxPrefix(cfg.Actions.OutboxPrefix),
			actions.WithOutboxMaxLen(cfg.Actions.OutboxMaxLen),
		)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open action outbox: %w", err)
		}
		rt.outbox = outbox
		rt.closers = append(rt.closers, func() { _ = outbox.Close() })
		executors = append(executors, outbox)
	}
	if len(executors) > 0 {
		opts = append(opts, engine.WithActions(executors))
	}

	observer, closeObserver, err := a.buildObserver()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeObserver)
	opts = append(opts, engine.WithObserver(observer))

	e, err := engine.New(provider, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = e
	return rt, nil
}

// buildObserver logs every event at debug, records it in the event store
// and, with tracing on, exports it as a span through the global tracer
// provider. Emission is asynchronous so a slow sink never holds up a turn.
func (a *app) buildObserver() (observe.Sink, func(), error) {
	sinks := []observe.Sink{observe.NewLogSink(a.logger)}
	var events *eventsqlite.Store
	if path := strings.TrimSpace(a.cfg.Events.Path); path != "" {
		store, err := eventsqlite.New(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event store: %w", err)
		}
		events = store
		sinks = append(sinks, observestore.Sink(store))
	}
	if a.cfg.Tracing.Enabled {
		sinks = append(sinks, otelsink.NewSink(otel.GetTracerProvider()))
	}
	async := observe.NewAsyncSink(observe.NewMultiSink(sinks...), observerBuffer)
	return async, func() {
		async.Close()
		if dropped, failed := async.Dropped(), async.Failed(); dropped > 0 || failed > 0 {
			a.logger.Warn("some turn events were not recorded", zap.Int64("dropped", dropped), zap.Int64("failed", failed))
		}
		_ = events.Close()
	}, nil
}

var errToolsDisabled = errors.New("no tool process configured (set tools.command or TOOL_PROCESS_COMMAND)")
