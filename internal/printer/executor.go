package printer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"printlink/internal/transport"
)

// Fixed timings of the connection protocol.
const (
	ReuseSettle   = 300 * time.Millisecond
	FastPathDelay = 500 * time.Millisecond
	SendSettle    = 500 * time.Millisecond
)

// readinessKey is the lightweight setting probed on fresh connections.
const readinessKey = "device.friendly_name"

// readinessSchedule is the wait before each readiness probe.
var readinessSchedule = []time.Duration{
	2000 * time.Millisecond,
	1000 * time.Millisecond,
	800 * time.Millisecond,
}

// Executor runs operations against a printer, reusing the Manager's active
// connection when it belongs to the target and opening a transient one
// otherwise.
type Executor struct {
	mgr   *Manager
	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an Executor sharing mgr's connection and worker.
func NewExecutor(mgr *Manager, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{mgr: mgr, log: log.Named("executor"), sleep: sleepContext}
}

// Execute performs op against address.
func (e *Executor) Execute(ctx context.Context, address string, op Operation) (Result, error) {
	res := Result{ID: uuid.NewString(), Address: address, Kind: op.Kind}
	if address == "" {
		return res, invalidAddress()
	}
	payload, err := op.prepare()
	if err != nil {
		return res, err
	}
	release, ok := e.mgr.gate.try()
	if !ok {
		return res, newError(AlreadyBusy, CodeBusy, "another operation is in progress", nil)
	}
	defer release()

	log := e.log.With(zap.String("op", res.ID), zap.String("address", address), zap.Stringer("kind", op.Kind))

	t, reused := e.mgr.reusable(address)
	if reused {
		res.Reused = true
		res.Readiness = ReadinessReused
		log.Debug("using active connection")
		if err := e.sleep(ctx, ReuseSettle); err != nil {
			return res, newError(OperationFailed, failureCode(op), "operation canceled", err)
		}
	} else {
		t, err = e.mgr.transports.New(address)
		if err != nil {
			return res, connectFailure("connection failed", err)
		}
		defer e.closeOwned(log, t)

		log.Debug("opening transient connection")
		if err := t.Open(ctx); err != nil {
			return res, newError(ConnectionFailed, CodeConnectionFailed, "connection failed", err)
		}
		if res.Readiness, res.Probes, err = e.ready(ctx, log, t, address); err != nil {
			return res, newError(ConnectionFailed, CodeConnectionFailed, "connection not ready", err)
		}
	}

	switch op.Kind {
	case OpSend:
		n, err := t.Write(payload)
		res.Written = n
		if err != nil {
			log.Warn("write failed", zap.Int("written", n), zap.Error(err))
			if reused {
				e.mgr.dropIfClosed(address, err)
			}
			return res, newError(OperationFailed, CodePrintFailed, "print failed", err)
		}
		// The printer must drain the job before the link may close; a
		// canceled caller does not cut this short.
		_ = e.sleep(context.WithoutCancel(ctx), SendSettle)
		log.Info("payload sent", zap.Int("bytes", n), zap.Stringer("readiness", res.Readiness))
	case OpQuery:
		for _, key := range op.Keys {
			v, err := e.mgr.querier.Get(ctx, t, key)
			if err != nil {
				log.Warn("query failed", zap.String("key", key), zap.Error(err))
				if reused {
					e.mgr.dropIfClosed(address, err)
				}
				return res, newError(OperationFailed, CodeQueryFailed, "query "+key+" failed", err)
			}
			res.Values = append(res.Values, v)
		}
		log.Debug("query answered", zap.Strings("keys", op.Keys))
	}
	return res, nil
}

// ready decides whether a freshly opened transport can be trusted. A device
// connected within CacheWindow takes the fast path; otherwise up to three
// probes are made, and the connection is assumed ready even if none is
// answered, since many printers accept jobs without supporting the probe.
// Only ctx ending is an error.
func (e *Executor) ready(ctx context.Context, log *zap.Logger, t transport.Transport, address string) (Readiness, int, error) {
	cache := e.mgr.cache
	if cache.Recent(address, e.mgr.now()) {
		log.Debug("recent connection, fast path")
		if err := e.sleep(ctx, FastPathDelay); err != nil {
			return ReadinessWarm, 0, err
		}
		cache.Touch(address, e.mgr.now())
		return ReadinessWarm, 0, nil
	}

	probes := 0
	for i, wait := range readinessSchedule {
		if err := e.sleep(ctx, wait); err != nil {
			return 0, probes, err
		}
		probes++
		name, err := e.mgr.querier.Get(ctx, t, readinessKey)
		if err == nil {
			log.Debug("printer ready", zap.String("name", name), zap.Int("attempt", i+1))
			cache.Touch(address, e.mgr.now())
			return ReadinessVerified, probes, nil
		}
		log.Warn("readiness probe failed", zap.Int("attempt", i+1), zap.Int("of", len(readinessSchedule)), zap.Error(err))
	}
	log.Warn("readiness probes exhausted, continuing")
	cache.Touch(address, e.mgr.now())
	return ReadinessAssumed, probes, nil
}

func (e *Executor) closeOwned(log *zap.Logger, t transport.Transport) {
	if err := t.Close(); err != nil {
		log.Warn("closing transient connection", zap.Error(err))
		return
	}
	log.Debug("transient connection closed")
}

func failureCode(op Operation) string {
	if op.Kind == OpSend {
		return CodePrintFailed
	}
	return CodeQueryFailed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
