package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/gomixnet/internal/metrics"
	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// maxPendingDeadline bounds how far in the future a timer is armed when the
// engine reports no pending deadline at all, so the loop still wakes up
// periodically to notice newly-queued authored traffic.
const maxPendingDeadline = time.Second

// engineLoop owns all access to the engine: it is the only goroutine that
// ever calls into it, so the engine's own single-threaded, externally-owned
// access model (no internal locking) holds without an external mutex.
//
// One goroutine, one set of reusable timers reset after every
// state-changing event.
type engineLoop struct {
	engine  *mixnet.Engine
	ns      topology.NetworkStatus
	send    func(mixnet.AddressedPacket)
	logger  *slog.Logger
	metrics *metrics.Collector

	recvCh    <-chan []byte
	controlCh chan controlRequest
}

// controlRequest lets another goroutine (the control HTTP server) run one
// closure against the engine from inside the loop goroutine, preserving the
// "single goroutine touches the engine" invariant without a mutex.
type controlRequest struct {
	fn   func(*mixnet.Engine) (any, error)
	resp chan controlResult
}

type controlResult struct {
	value any
	err   error
}

func newEngineLoop(
	engine *mixnet.Engine,
	ns topology.NetworkStatus,
	send func(mixnet.AddressedPacket),
	logger *slog.Logger,
	mc *metrics.Collector,
	recvCh <-chan []byte,
) *engineLoop {
	return &engineLoop{
		engine:    engine,
		ns:        ns,
		send:      send,
		logger:    logger,
		metrics:   mc,
		recvCh:    recvCh,
		controlCh: make(chan controlRequest),
	}
}

// call runs fn against the engine from the loop goroutine and returns its
// result, blocking until the loop processes it or ctx is cancelled.
func (l *engineLoop) call(ctx context.Context, fn func(*mixnet.Engine) (any, error)) (any, error) {
	req := controlRequest{fn: fn, resp: make(chan controlResult, 1)}
	select {
	case l.controlCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *engineLoop) run(ctx context.Context) error {
	forwardTimer := time.NewTimer(maxPendingDeadline)
	defer forwardTimer.Stop()
	authoredTimer := time.NewTimer(maxPendingDeadline)
	defer authoredTimer.Stop()

	l.resetForwardTimer(forwardTimer)
	l.resetAuthoredTimer(authoredTimer)

	for {
		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-l.recvCh:
			if !ok {
				return nil
			}
			l.handleRecv(raw)
			l.applyInvalidation(forwardTimer, authoredTimer)

		case req := <-l.controlCh:
			value, err := req.fn(l.engine)
			req.resp <- controlResult{value: value, err: err}
			l.applyInvalidation(forwardTimer, authoredTimer)

		case <-forwardTimer.C:
			l.handleForwardTick()
			l.resetForwardTimer(forwardTimer)

		case <-authoredTimer.C:
			l.handleAuthoredTick()
			l.resetAuthoredTimer(authoredTimer)
		}

		l.updateGauges()
	}
}

// updateGauges refreshes the queue/keystore occupancy gauges after every
// engine interaction; the stats call is cheap enough to run per event.
func (l *engineLoop) updateGauges() {
	stats := l.engine.QueueStats()
	l.metrics.SetForwardQueueSize(stats.ForwardQueueLen)
	l.metrics.SetAuthoredQueueSize(stats.CurrentAuthoredQueueLen + stats.PrevAuthoredQueueLen)
	l.metrics.SetSurbKeystoreSize(stats.SurbKeystoreLen)
	l.metrics.SetIncompleteMessages(stats.IncompleteMessages)
}

func (l *engineLoop) handleRecv(raw []byte) {
	packet, err := packetFromBytes(raw)
	if err != nil {
		l.metrics.IncPacketsDropped(metrics.ReasonFragment)
		l.logger.Warn("dropped malformed packet", slog.String("error", err.Error()))
		return
	}

	msg, ok := l.engine.HandlePacket(packet)
	if !ok {
		return
	}

	switch m := msg.(type) {
	case mixnet.RequestMessage:
		l.metrics.IncPacketsDelivered(metrics.KindRequest)
		l.logger.Info("delivered request",
			slog.Int("session_index", int(m.SessionIndex)),
			slog.Int("bytes", len(m.Data)),
			slog.Int("surbs", len(m.Surbs)),
		)
	case mixnet.ReplyMessage:
		l.metrics.IncPacketsDelivered(metrics.KindReply)
		l.logger.Info("delivered reply", slog.Int("bytes", len(m.Data)))
	}
}

func (l *engineLoop) handleForwardTick() {
	pkt, ok := l.engine.PopNextForwardPacket()
	if !ok {
		return
	}
	l.metrics.IncPacketsForwarded()
	l.send(pkt)
}

func (l *engineLoop) handleAuthoredTick() {
	pkt, ok := l.engine.PopNextAuthoredPacket(l.ns)
	if !ok {
		return
	}
	l.send(pkt)
}

// applyInvalidation re-arms timers the engine flagged as stale after the
// last operation. ReservedPeers invalidation is ignored: the UDP transport
// keeps no per-peer connections, so there is nothing to reserve.
func (l *engineLoop) applyInvalidation(forwardTimer, authoredTimer *time.Timer) {
	inv := l.engine.TakeInvalidated()
	if inv.Has(mixnet.InvalidatedNextForwardPacketDeadline) {
		l.resetForwardTimer(forwardTimer)
	}
	if inv.Has(mixnet.InvalidatedNextAuthoredPacketDeadline) {
		l.resetAuthoredTimer(authoredTimer)
	}
}

func (l *engineLoop) resetForwardTimer(t *time.Timer) {
	d := maxPendingDeadline
	if deadline, ok := l.engine.NextForwardPacketDeadline(); ok {
		if until := time.Until(deadline); until > 0 {
			d = until
		} else {
			d = 0
		}
	}
	resetTimer(t, d)
}

func (l *engineLoop) resetAuthoredTimer(t *time.Timer) {
	d := maxPendingDeadline
	if delay, ok := l.engine.NextAuthoredPacketDelay(); ok {
		d = delay
	}
	resetTimer(t, d)
}

// resetTimer stops t, draining its channel if it had already fired, then
// resets it to d. Required before Reset whenever the timer might not have
// been drained by the select loop that owns it.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
