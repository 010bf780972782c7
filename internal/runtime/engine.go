// Package runtime drives a session through the stage graph: it executes
// stages, merges their patches, persists a checkpoint after every stage,
// resolves transitions, and suspends at human-input points.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tally/internal/logging"
	"github.com/aretw0/tally/internal/metrics"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/graph"
	"github.com/aretw0/tally/pkg/ports"
)

// StartCheckpoint is the stage name recorded for the seed snapshot taken
// before the entry stage runs.
const StartCheckpoint = "session_start"

// DefaultMaxIterations bounds the feedback cycle. The value mirrors the
// revision limit of the estimation flow this engine was built for.
const DefaultMaxIterations = 5

// Engine executes one session at a time over an immutable graph. It holds
// no per-session state, so a single Engine can serve many concurrent
// sessions; the checkpoint store is the only shared resource.
type Engine struct {
	graph         *graph.Graph
	store         ports.CheckpointStore
	logger        *slog.Logger
	metrics       *metrics.Metrics
	maxIterations int
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxIterations overrides the revision-cycle bound.
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewEngine creates an engine over a validated graph and a checkpoint
// store.
func NewEngine(g *graph.Graph, store ports.CheckpointStore, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:         g,
		store:         store,
		logger:        logging.NewNop(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start seeds a new session and runs it from the entry stage until the
// first suspension or a terminal status.
func (e *Engine) Start(ctx context.Context, sessionID string, initial map[string]any) (Result, error) {
	state := domain.Merge(domain.NewState(), initial)
	state[domain.KeySessionID] = sessionID
	if !domain.HasField(state, domain.KeyIterationCount) {
		state[domain.KeyIterationCount] = 0
	}
	if !domain.HasField(state, domain.KeyApproved) {
		state[domain.KeyApproved] = false
	}
	state[domain.KeyStatus] = string(domain.StatusRunning)
	state[domain.KeyNextStage] = e.graph.Entry()

	if _, err := e.store.Append(ctx, sessionID, StartCheckpoint, state); err != nil {
		return Result{}, fmt.Errorf("failed to persist initial checkpoint: %w", err)
	}

	e.logger.Info("session started", "session", sessionID, "entry", e.graph.Entry())
	return e.run(ctx, sessionID, state)
}

// Resume loads the latest checkpoint, merges the supplied fields, and
// re-enters the graph at the stage that was awaiting input. Resuming a
// session that already reached done or failed is a no-op reporting the
// terminal status.
func (e *Engine) Resume(ctx context.Context, sessionID string, supplied map[string]any) (Result, error) {
	cp, err := e.store.Latest(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	state := cp.State
	status := domain.SessionStatus(domain.GetString(state, domain.KeyStatus, string(domain.StatusRunning)))
	if status.Terminal() {
		e.logger.Info("resume on terminal session", "session", sessionID, "status", status)
		return Result{SessionID: sessionID, Status: status, State: state}, nil
	}

	next := domain.GetString(state, domain.KeyNextStage, "")
	if next == "" {
		return Result{}, fmt.Errorf("checkpoint %d of session %s carries no next stage", cp.Seq, sessionID)
	}

	if status == domain.StatusAwaitingInput {
		if _, required := e.graph.IsInputPoint(next); len(required) > 0 {
			for _, field := range required {
				if _, ok := supplied[field]; !ok {
					return Result{}, domain.Validationf("resume requires field %q for stage %s", field, next)
				}
			}
		}
	}

	state = domain.Merge(state, supplied)
	e.logger.Info("session resumed", "session", sessionID, "stage", next)
	return e.run(ctx, sessionID, state)
}

// run executes stages until suspension, terminal status, or error. The
// state passed in must already carry the next stage pointer.
func (e *Engine) run(ctx context.Context, sessionID string, state domain.State) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		current := domain.GetString(state, domain.KeyNextStage, "")
		stage, ok := e.graph.Stage(current)
		if !ok {
			return e.forceFail(ctx, sessionID, current, state,
				domain.Fatalf("next stage %q is not part of the graph", current))
		}

		if iter := domain.GetInt(state, domain.KeyIterationCount, 0); iter >= e.maxIterations {
			return e.forceFail(ctx, sessionID, current, state,
				domain.Fatalf("maximum revision iterations (%d) reached", e.maxIterations))
		}

		started := time.Now()
		patch, err := e.executeStage(ctx, stage, state)
		if err != nil {
			se := domain.AsStageError(err)
			e.metrics.ObserveFailure(current, string(se.Kind))
			e.metrics.ObserveSessionEnd(string(domain.StatusFailed))
			e.logger.Error("stage failed", "session", sessionID, "stage", current,
				"kind", se.Kind, "error", se.Message)

			// The failure is reported to the caller but not checkpointed:
			// the last snapshot stays at the failing stage, so a later
			// resume retries it (dependency and transient failures are
			// recoverable by re-running the same stage).
			state = domain.Merge(state, domain.Patch{
				domain.KeyError:     se.Message,
				domain.KeyErrorKind: string(se.Kind),
				domain.KeyStatus:    string(domain.StatusFailed),
			})
			return Result{SessionID: sessionID, Status: domain.StatusFailed, State: state}, nil
		}
		e.metrics.ObserveStage(current, time.Since(started))

		state = domain.Merge(state, patch)

		target, err := e.graph.Resolve(current, state)
		if err != nil {
			return e.forceFail(ctx, sessionID, current, state, domain.Fatalf("routing: %v", err))
		}

		if target == graph.Done {
			if !e.graph.TerminalHolds(state) {
				return e.forceFail(ctx, sessionID, current, state,
					domain.Fatalf("stage %q routed to done but the terminal condition does not hold", current))
			}
			state[domain.KeyStatus] = string(domain.StatusDone)
			state[domain.KeyNextStage] = ""
			if _, err := e.store.Append(ctx, sessionID, current, state); err != nil {
				return Result{}, fmt.Errorf("failed to persist final checkpoint: %w", err)
			}
			e.metrics.ObserveSessionEnd(string(domain.StatusDone))
			e.logger.Info("session done", "session", sessionID,
				"iterations", domain.GetInt(state, domain.KeyIterationCount, 0))
			return Result{SessionID: sessionID, Status: domain.StatusDone, State: state}, nil
		}

		if isInput, fields := e.graph.IsInputPoint(target); isInput {
			state[domain.KeyStatus] = string(domain.StatusAwaitingInput)
			state[domain.KeyNextStage] = target
			if _, err := e.store.Append(ctx, sessionID, current, state); err != nil {
				return Result{}, fmt.Errorf("failed to persist checkpoint: %w", err)
			}
			e.logger.Info("session awaiting input", "session", sessionID, "stage", target, "fields", fields)
			return Result{
				SessionID:      sessionID,
				Status:         domain.StatusAwaitingInput,
				State:          state,
				AwaitingStage:  target,
				RequiredFields: fields,
			}, nil
		}

		state[domain.KeyStatus] = string(domain.StatusRunning)
		state[domain.KeyNextStage] = target
		if _, err := e.store.Append(ctx, sessionID, current, state); err != nil {
			return Result{}, fmt.Errorf("failed to persist checkpoint: %w", err)
		}
		e.logger.Debug("stage completed", "session", sessionID, "stage", current, "next", target)
	}
}

// executeStage runs one stage over a copy of the state, converting panics
// into fatal stage errors so nothing escapes the boundary unclassified.
func (e *Engine) executeStage(ctx context.Context, st ports.Stage, state domain.State) (patch domain.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			patch = nil
			err = domain.Fatalf("stage %s panicked: %v", st.Name(), r)
		}
	}()
	return st.Execute(ctx, domain.Clone(state))
}

// forceFail terminates the session with an engine-level failure. Unlike a
// stage failure, the failed status is checkpointed: these conditions
// (routing faults, iteration cap) do not go away on retry.
func (e *Engine) forceFail(ctx context.Context, sessionID, stageName string, state domain.State, se *domain.StageError) (Result, error) {
	state = domain.Merge(state, domain.Patch{
		domain.KeyError:     se.Message,
		domain.KeyErrorKind: string(se.Kind),
		domain.KeyStatus:    string(domain.StatusFailed),
	})
	if _, err := e.store.Append(ctx, sessionID, stageName, state); err != nil {
		e.logger.Error("failed to persist failure checkpoint", "session", sessionID, "error", err)
	}
	e.metrics.ObserveSessionEnd(string(domain.StatusFailed))
	e.logger.Error("session failed", "session", sessionID, "stage", stageName, "error", se.Message)
	return Result{SessionID: sessionID, Status: domain.StatusFailed, State: state}, nil
}
