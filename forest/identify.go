package forest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
	"github.com/joshuapare/binsleuth/session"
)

var tracer = otel.Tracer("binsleuth.forest")

const (
	// DefaultMaxConfirm is how many probes confirm a leaf by default.
	DefaultMaxConfirm = 1
	// DefaultWatchdog bounds each protocol wait by default.
	DefaultWatchdog = session.DefaultWatchdog
)

// Identify outcomes, as reported to metrics and spans.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeBestEffort = "best_effort"
	OutcomeRejected   = "rejected"
	OutcomeUnknown    = "unknown"
	OutcomeError      = "error"
)

// Prober is the part of a tracer session a probe needs.
type Prober interface {
	IsRunning() bool
	SendReset(watchdog time.Duration) (session.Message, error)
	SendSetContext(ctx *iovec.Context, watchdog time.Duration) (session.Message, error)
	SendExecute(watchdog time.Duration) (session.Message, error)
	ReadResponse(watchdog time.Duration) (session.Message, error)
}

// Session is the tracer session Identify drives.
type Session interface {
	Prober
	Start(timeout time.Duration) error
	Stop() error
	SendSetTarget(target string, watchdog time.Duration) (session.Message, error)
}

// SessionFactory creates a stopped session for cfg.
type SessionFactory func(cfg session.Config) (Session, error)

// NewSession is the default SessionFactory.
func NewSession(cfg session.Config) (Session, error) {
	s, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IdentifyConfig parameterizes one Identify call.
type IdentifyConfig struct {
	// Session is the tracer invocation. BinaryPath defaults to the
	// descriptor's binary and Target to the selection rule of TargetFor.
	Session session.Config
	// MaxConfirm caps the probes tried at a leaf; 0 means DefaultMaxConfirm.
	MaxConfirm int
	// Watchdog bounds every ack and response wait; 0 means DefaultWatchdog.
	Watchdog time.Duration
	// ProcessTimeout bounds each tracer process's runtime; 0 means one
	// second past Watchdog.
	ProcessTimeout time.Duration
	// RunID labels the call's logs and span; empty means a fresh uuid.
	RunID string
}

func (c IdentifyConfig) withDefaults(desc types.FunctionDescriptor) IdentifyConfig {
	if c.MaxConfirm <= 0 {
		c.MaxConfirm = DefaultMaxConfirm
	}
	if c.Watchdog <= 0 {
		c.Watchdog = DefaultWatchdog
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = DefaultProcessTimeout(c.Watchdog)
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Session.BinaryPath == "" {
		c.Session.BinaryPath = desc.Binary
	}
	if c.Session.Watchdog <= 0 {
		c.Session.Watchdog = c.Watchdog
	}
	c.Session.Target = TargetFor(desc, c.Session)
	return c
}

// DefaultProcessTimeout is the runtime window given to a tracer whose waits
// are bounded by watchdog.
func DefaultProcessTimeout(watchdog time.Duration) time.Duration {
	return watchdog + time.Second
}

// TargetFor picks how the tracer selects desc: an explicit cfg.Target wins,
// a loader means the function is looked up by name, and otherwise (or when
// the function has no name) by address.
func TargetFor(desc types.FunctionDescriptor, cfg session.Config) string {
	switch {
	case cfg.Target != "":
		return cfg.Target
	case cfg.LoaderPath != "" && desc.Named():
		return desc.Name
	default:
		return session.AddressTarget(desc.Location)
	}
}

// attempt applies probe through reset, set-context and execute, and reports
// whether the execution succeeded. Reset and set-context must both succeed.
func attempt(p Prober, probe *iovec.Context, watchdog time.Duration) (bool, error) {
	if !p.IsRunning() {
		return false, types.Errorf(types.ErrKindNotRunning, "probe %s: tracer is not running", probe.Hexdigest())
	}
	if _, err := p.SendReset(watchdog); err != nil {
		return false, err
	}
	if resp, err := p.ReadResponse(watchdog); err != nil {
		return false, err
	} else if !resp.OK() {
		return false, types.Errorf(types.ErrKindProtocol, "reset: tracer answered %s", resp)
	}

	if _, err := p.SendSetContext(probe, watchdog); err != nil {
		return false, err
	}
	if resp, err := p.ReadResponse(watchdog); err != nil {
		return false, err
	} else if !resp.OK() {
		return false, types.Errorf(types.ErrKindProtocol, "set context %s: tracer answered %s", probe.Hexdigest(), resp)
	}

	if _, err := p.SendExecute(watchdog); err != nil {
		return false, err
	}
	resp, err := p.ReadResponse(watchdog)
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

type rankedProbe struct {
	hash      uint64
	accepters int
}

// rankProbes orders the hashes of e that some candidate accepted by how few
// functions accepted them, then by hash.
func rankProbes(e *treeEntry, candidates []types.DescriptorEntry) []rankedProbe {
	var ranked []rankedProbe
	for _, h := range e.descs.Hashes() {
		accepting := e.descs[h]
		if slices.ContainsFunc(candidates, func(c types.DescriptorEntry) bool {
			return e.descs.Accepts(h, c.Desc)
		}) {
			ranked = append(ranked, rankedProbe{hash: h, accepters: len(accepting)})
		}
	}
	slices.SortStableFunc(ranked, func(a, b rankedProbe) int {
		return cmp.Compare(a.accepters, b.accepters)
	})
	return ranked
}

// ConfirmLeaf re-tests the leaf at i with the maxConfirm most discriminative
// probes recorded for its candidate functions. It returns nil when every
// tried probe is accepted, an error matching types.ErrConfirmationExhausted
// when there is nothing to try, types.ErrRejected at the first rejection, and
// the session's error when the protocol fails.
func (f *Forest) ConfirmLeaf(ctx context.Context, desc types.FunctionDescriptor, i NodeIndex, p Prober, maxConfirm int, watchdog time.Duration) (err error) {
	_, span := tracer.Start(ctx, "Forest.ConfirmLeaf", trace.WithAttributes(
		attribute.Int("binsleuth.node", int(i)),
		attribute.String("binsleuth.function", desc.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	candidates, err := f.EquivClasses(i)
	if err != nil {
		return err
	}
	e, _, err := f.owner(i)
	if err != nil {
		return err
	}
	ranked := rankProbes(e, candidates)
	if len(ranked) == 0 {
		return types.Errorf(types.ErrKindConfirmationExhausted, "leaf %d: no probe accepts its %d candidates", i, len(candidates))
	}
	ranked = ranked[:min(len(ranked), max(maxConfirm, 0))]
	span.SetAttributes(attribute.Int("binsleuth.probes", len(ranked)))

	for _, r := range ranked {
		probe, ok := e.probes[r.hash]
		if !ok {
			return types.Errorf(types.ErrKindNotFound, "leaf %d: no context for probe %016x", i, r.hash)
		}
		f.log.Debug("confirming leaf", "node", int(i), "function", desc.String(),
			"probe", probe.Hexdigest(), "accepters", r.accepters)
		accepted, err := attempt(p, probe, watchdog)
		if err != nil {
			f.metrics.Probe("confirm", "error")
			return err
		}
		if !accepted {
			f.metrics.Probe("confirm", "rejected")
			return types.Errorf(types.ErrKindRejected, "leaf %d: probe %016x rejected", i, r.hash)
		}
		f.metrics.Probe("confirm", "accepted")
	}
	return nil
}

// Identify walks the forest for desc and returns the leaf it settles on, or
// Unknown. A tracer that cannot be started or refuses the target fails the
// call with an error; failures while walking resolve to Unknown with a nil
// error, including a tracer that cannot be restarted. The tracer is stopped before Identify returns.
func (f *Forest) Identify(ctx context.Context, desc types.FunctionDescriptor, cfg IdentifyConfig) (NodeIndex, error) {
	cfg = cfg.withDefaults(desc)
	runID := cfg.RunID
	log := f.log.With("run", runID, "function", desc.String())

	ctx, span := tracer.Start(ctx, "Forest.Identify", trace.WithAttributes(
		attribute.String("binsleuth.run", runID),
		attribute.String("binsleuth.function", desc.String()),
		attribute.String("binsleuth.target", cfg.Session.Target),
	))
	defer span.End()

	start := time.Now()
	idx, outcome, err := f.identify(ctx, desc, cfg, log)
	f.metrics.Identify(outcome, time.Since(start))
	if errors.Is(err, types.ErrSessionTimeout) {
		f.metrics.Session("timeout")
	}

	span.SetAttributes(
		attribute.Int("binsleuth.node", int(idx)),
		attribute.String("binsleuth.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		log.Warn("identification failed", "err", err)
	} else {
		log.Info("identification finished", "node", int(idx), "outcome", outcome,
			"elapsed", time.Since(start))
	}
	return idx, err
}

func (f *Forest) identify(ctx context.Context, desc types.FunctionDescriptor, cfg IdentifyConfig, log *slog.Logger) (NodeIndex, string, error) {
	size := f.Size()
	if size == 0 {
		return Unknown, OutcomeUnknown, nil
	}
	sess, err := f.newSession(cfg.Session)
	if err != nil {
		return Unknown, OutcomeError, err
	}
	defer func() {
		if err := sess.Stop(); err != nil {
			log.Warn("stop tracer", "err", err)
		}
	}()

	idx := NodeIndex(0)
	for step := 0; step < size; step++ {
		if err := ctx.Err(); err != nil {
			return Unknown, OutcomeError, err
		}
		if !sess.IsRunning() {
			if err := f.selectTarget(sess, cfg, log); err != nil {
				if step == 0 {
					return Unknown, OutcomeError, err
				}
				log.Warn("tracer restart failed", "node", int(idx), "err", err)
				return Unknown, OutcomeUnknown, nil
			}
		}

		if g, ok := f.grafts[idx]; ok {
			log.Debug("following graft", "from", int(idx), "to", int(g))
			idx = g
			continue
		}
		leaf, err := f.IsLeaf(idx)
		if err != nil {
			log.Warn("walk left the forest", "node", int(idx), "err", err)
			return Unknown, OutcomeUnknown, nil
		}
		if leaf {
			return f.settle(ctx, desc, idx, sess, cfg, log)
		}

		probe := f.Iovec(idx)
		if probe == nil {
			log.Warn("node has no probe context", "node", int(idx))
			return Unknown, OutcomeUnknown, nil
		}
		log.Debug("trying probe", "node", int(idx), "probe", probe.Hexdigest())
		accepted, err := attempt(sess, probe, cfg.Watchdog)
		if err != nil {
			f.metrics.Probe("traverse", "error")
			log.Warn("probe failed", "node", int(idx), "err", err)
			return Unknown, OutcomeUnknown, nil
		}

		var next NodeIndex
		if accepted {
			f.metrics.Probe("traverse", "accepted")
			next, err = f.RightChild(idx)
		} else {
			f.metrics.Probe("traverse", "rejected")
			next, err = f.LeftChild(idx)
		}
		if err != nil || next < 0 {
			log.Warn("node has no child to follow", "node", int(idx), "accepted", accepted, "err", err)
			return Unknown, OutcomeUnknown, nil
		}
		idx = next
	}
	log.Warn("walk did not settle", "steps", size)
	return Unknown, OutcomeUnknown, nil
}

// selectTarget (re)starts the tracer and points it at the function.
func (f *Forest) selectTarget(sess Session, cfg IdentifyConfig, log *slog.Logger) error {
	if err := sess.Stop(); err != nil {
		log.Debug("stop before restart", "err", err)
	}
	if err := sess.Start(cfg.ProcessTimeout); err != nil {
		f.metrics.Session("start_error")
		return err
	}
	f.metrics.Session("start")

	target := cfg.Session.Target
	if _, err := sess.SendSetTarget(target, cfg.Watchdog); err != nil {
		return fmt.Errorf("set target %s: %w", target, err)
	}
	resp, err := sess.ReadResponse(cfg.Watchdog)
	if err != nil {
		return fmt.Errorf("set target %s: %w", target, err)
	}
	if !resp.OK() {
		return types.Errorf(types.ErrKindProtocol, "set target %s: tracer answered %s", target, resp)
	}
	log.Debug("target selected", "target", target)
	return nil
}

// settle confirms the leaf the walk reached.
func (f *Forest) settle(ctx context.Context, desc types.FunctionDescriptor, idx NodeIndex, sess Session, cfg IdentifyConfig, log *slog.Logger) (NodeIndex, string, error) {
	err := f.ConfirmLeaf(ctx, desc, idx, sess, cfg.MaxConfirm, cfg.Watchdog)
	switch {
	case err == nil:
		return idx, OutcomeConfirmed, nil
	case errors.Is(err, types.ErrConfirmationExhausted):
		log.Debug("nothing left to confirm with", "node", int(idx))
		return idx, OutcomeBestEffort, nil
	case errors.Is(err, types.ErrRejected):
		log.Info("leaf rejected", "node", int(idx), "err", err)
		return Unknown, OutcomeRejected, nil
	default:
		log.Warn("leaf confirmation failed", "node", int(idx), "err", err)
		return Unknown, OutcomeUnknown, nil
	}
}
