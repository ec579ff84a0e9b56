package mtp

import (
	"context"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hanwen/go-mtp-session/mtplog"
)

// reapResult is delivered to a blocked transferOnce call once its URB
// is reaped (or discarded/aborted).
type reapResult struct {
	n   int
	err error
}

// pendingURB is what the dispatch map holds between submit and reap: the
// only state the reap path needs to route a completion back to its caller.
type pendingURB struct {
	ep   Endpoint
	done chan reapResult
}

type controlJob struct {
	reqType, req     uint8
	value, index     uint16
	data             []byte
	timeout          time.Duration
	interruptCurrent bool
	result           chan error
}

// BulkPipe is component A: it frames raw byte transfers over one bulk IN
// endpoint, one bulk OUT endpoint and the default control endpoint,
// interleaving control transfers (in particular, transaction aborts)
// between URB reaps. It is the only part of this package that talks to
// a BulkBackend.
//
// State machine: Idle -> Submitted(1 urb) -> [reap] -> Idle, repeated by
// the caller until its Read/Write call is satisfied. On Timeout or
// error, the outstanding URB is discarded before the state returns to
// Idle.
type BulkPipe struct {
	backend BulkBackend
	cfg     Config
	log     *mtplog.ChildLogger

	mu           sync.Mutex
	urbs         map[URBHandle]*pendingURB
	controlQueue []*controlJob

	sem *semaphore.Weighted

	discardCount *atomic.Int64
	throughput   *ratecounter.RateCounter
	telemetry    *MutableTicker

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBulkPipe(backend BulkBackend, cfg Config, log *mtplog.ChildLogger) *BulkPipe {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)

	p := &BulkPipe{
		backend:      backend,
		cfg:          cfg,
		log:          log,
		urbs:         map[URBHandle]*pendingURB{},
		sem:          semaphore.NewWeighted(cfg.MaxOutstandingURBs),
		discardCount: atomic.NewInt64(0),
		throughput:   ratecounter.NewRateCounter(time.Second),
		telemetry:    NewMutableTicker(5 * time.Second),
		eg:           eg,
		ctx:          ctx,
		cancel:       cancel,
	}

	p.eg.Go(func() error { return p.reapLoop(ctx) })
	p.eg.Go(func() error { return p.telemetryLoop(ctx) })
	return p
}

// DiscardCount returns the number of URBs this pipe has discarded
// (timeouts plus abort-driven unwinds), the counter scenario 5 uses to
// assert that timeouts never leak a URB.
func (p *BulkPipe) DiscardCount() int64 {
	return p.discardCount.Load()
}

func (p *BulkPipe) reapLoop(ctx context.Context) error {
	defer p.telemetry.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		h, n, err := p.backend.Reap(p.cfg.ReapPollInterval)
		if err != nil {
			if !IsTimeout(err) {
				p.failAllPending(DisconnectedError(err.Error()))
			}
		} else {
			p.mu.Lock()
			pu, ok := p.urbs[h]
			delete(p.urbs, h)
			p.mu.Unlock()
			if ok {
				p.sem.Release(1)
				p.throughput.Incr(int64(n))
				pu.done <- reapResult{n: n}
			}
		}
		p.drainControlQueue()
	}
}

func (p *BulkPipe) telemetryLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.telemetry.C:
			p.mu.Lock()
			inFlight := len(p.urbs)
			p.mu.Unlock()
			p.log.Debugf("pipe: %d urbs in flight, %d discarded, %d B/s",
				inFlight, p.discardCount.Load(), p.throughput.Rate())
		}
	}
}

func (p *BulkPipe) failAllPending(err error) {
	p.mu.Lock()
	pending := p.urbs
	p.urbs = map[URBHandle]*pendingURB{}
	p.mu.Unlock()
	for _, pu := range pending {
		p.sem.Release(1)
		pu.done <- reapResult{err: err}
	}
}

// abortPending discards every currently outstanding URB and wakes their
// waiters with Cancelled — the unwind triggered by a control transfer
// submitted with interruptCurrent=true.
func (p *BulkPipe) abortPending() {
	p.mu.Lock()
	pending := p.urbs
	p.urbs = map[URBHandle]*pendingURB{}
	p.mu.Unlock()
	for h, pu := range pending {
		if err := p.backend.Discard(h); err != nil {
			p.log.Warning("discard during abort: ", err)
		}
		p.discardCount.Inc()
		p.sem.Release(1)
		pu.done <- reapResult{err: CancelledError("transaction aborted")}
	}
}

// drainControlQueue executes every control transfer queued since the
// last drain, in FIFO order. The queue is taken under the pipe mutex;
// the transfers themselves run after the mutex is released, one at a
// time, serialized only by running on the reap loop's single goroutine.
// A transfer that raises is removed from the queue before its error
// propagates — no retry. Running on the reap loop's goroutine is what
// lets an interruptCurrent transfer reach in before the next reap is
// attempted.
func (p *BulkPipe) drainControlQueue() {
	p.mu.Lock()
	queue := p.controlQueue
	p.controlQueue = nil
	p.mu.Unlock()

	for _, job := range queue {
		_, err := p.backend.ControlTransfer(job.reqType, job.req, job.value, job.index, job.data, job.timeout)
		if err != nil {
			job.result <- err
			continue
		}
		if job.interruptCurrent {
			p.abortPending()
		}
		job.result <- nil
	}
}

// SubmitControl is component F's public face: it enqueues a control
// transfer closure and blocks until it has been issued. interruptCurrent
// requests that any URB currently outstanding on this pipe be discarded
// and its waiter woken with Cancelled once the transfer itself succeeds.
func (p *BulkPipe) SubmitControl(reqType, req uint8, value, index uint16, data []byte, interruptCurrent bool, timeout time.Duration) error {
	job := &controlJob{
		reqType:          reqType,
		req:              req,
		value:            value,
		index:            index,
		data:             data,
		timeout:          timeout,
		interruptCurrent: interruptCurrent,
		result:           make(chan error, 1),
	}
	p.mu.Lock()
	p.controlQueue = append(p.controlQueue, job)
	p.mu.Unlock()

	select {
	case err := <-job.result:
		return err
	case <-p.ctx.Done():
		return DisconnectedError("pipe closed")
	}
}

// transferOnce submits a single URB on ep and waits for it to be reaped,
// discarded on timeout. continuation marks BULK_CONTINUATION.
func (p *BulkPipe) transferOnce(ep Endpoint, buf []byte, continuation bool, timeout time.Duration) (int, error) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return 0, DisconnectedError("pipe closed")
	}

	h, err := p.backend.SubmitBulk(ep, buf, continuation)
	if err != nil {
		p.sem.Release(1)
		return 0, err
	}

	done := make(chan reapResult, 1)
	p.mu.Lock()
	p.urbs[h] = &pendingURB{ep: ep, done: done}
	p.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	} else if timeout == 0 {
		// Poll once: take a completion that is already there, otherwise
		// discard the URB as on any other timeout.
		select {
		case res := <-done:
			return res.n, res.err
		default:
		}
		expired := make(chan time.Time, 1)
		expired <- time.Time{}
		timeoutCh = expired
	}

	select {
	case res := <-done:
		return res.n, res.err
	case <-timeoutCh:
		p.mu.Lock()
		_, ok := p.urbs[h]
		delete(p.urbs, h)
		p.mu.Unlock()
		if ok {
			if derr := p.backend.Discard(h); derr != nil {
				p.log.Warning("discard on timeout: ", derr)
			}
			p.discardCount.Inc()
			p.sem.Release(1)
		}
		return 0, TimeoutError("bulk transfer")
	case <-p.ctx.Done():
		return 0, DisconnectedError("pipe closed")
	}
}

// Write streams exactly total bytes read from r onto the bulk OUT
// endpoint, URB-sized chunk by URB-sized chunk, setting
// BULK_CONTINUATION on every URB after the first. If total is a nonzero
// multiple of the endpoint's max-packet-size, a trailing zero-length URB
// terminates the container as the wire format requires.
func (p *BulkPipe) Write(r readerFunc, total int64, timeout time.Duration) error {
	maxPacket := p.backend.MaxPacketSize(EndpointBulkOut)
	chunkSize := maxPacket * p.cfg.URBPacketsPerBuffer
	if chunkSize <= 0 {
		chunkSize = maxPacket
	}
	buf := make([]byte, chunkSize)

	continuation := false
	for {
		n, rerr := r(buf)
		if n > 0 {
			if _, err := p.transferOnce(EndpointBulkOut, buf[:n], continuation, timeout); err != nil {
				return err
			}
			continuation = true
		}
		if rerr != nil || n < len(buf) {
			break
		}
	}

	if maxPacket > 0 && total > 0 && total%int64(maxPacket) == 0 {
		if _, err := p.transferOnce(EndpointBulkOut, nil, true, timeout); err != nil {
			return err
		}
	}
	return nil
}

// Read fills w with bytes from the bulk IN endpoint until a short packet
// (fewer bytes than the URB buffer) terminates the container, and
// returns the total number of bytes read.
func (p *BulkPipe) Read(w writerFunc, timeout time.Duration) (int64, error) {
	maxPacket := p.backend.MaxPacketSize(EndpointBulkIn)
	chunkSize := maxPacket * p.cfg.URBPacketsPerBuffer
	if chunkSize <= 0 {
		chunkSize = maxPacket
	}
	buf := make([]byte, chunkSize)

	var total int64
	for {
		n, err := p.transferOnce(EndpointBulkIn, buf, false, timeout)
		if err != nil {
			return total, err
		}
		if n > 0 {
			if werr := w(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if n < len(buf) {
			break
		}
	}
	return total, nil
}

// ClearHalt clears both bulk endpoints. Session calls this after a
// drained abort, per the design note that the kernel's URB discard alone
// may not be enough to resynchronize the endpoint's data toggle.
func (p *BulkPipe) ClearHalt() error {
	if err := p.backend.ClearHalt(EndpointBulkIn); err != nil {
		return err
	}
	return p.backend.ClearHalt(EndpointBulkOut)
}

func (p *BulkPipe) Close() error {
	p.cancel()
	p.eg.Wait()
	p.abortPending()
	return p.backend.Close()
}

// readerFunc/writerFunc let Packetizer hand BulkPipe a plain function
// instead of requiring it to import io and juggle io.Reader's EOF
// semantics across partial reads; see packetizer.go.
type readerFunc func(buf []byte) (int, error)
type writerFunc func(buf []byte) error
