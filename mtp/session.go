package mtp

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/hanwen/go-mtp-session/mtplog"
)

// cancelRequestType/cancelRequest are the bmRequestType/bRequest pair
// PIMA 15740 reserves for the class-specific Cancel Transaction control
// transfer: 0x21 is class|interface|host-to-device, 0x64 is the PTP
// CANCEL_TRANSACTION request id.
const (
	cancelRequestType = 0x21
	cancelRequest     = 0x64
)

// sessionData tracks the three pieces of state the wire protocol
// multiplexes every container on: the session ID handed back by
// OpenSession, the next transaction ID RunTransaction will assign, and
// the transaction ID currently in flight (0 if none), which is what
// AbortCurrentTransaction needs to build its cancel request.
type sessionData struct {
	sid    uint32
	tid    uint32
	active uint32
}

// Session is component C: the transaction sequencing engine sitting
// above Packetizer. It owns the session/transaction ID pair, enforces
// that at most one transaction is outstanding at a time, and exposes
// the operation vocabulary in ops.go. A Session never buffers an entire
// Data container's payload unless the operation is known-small (device
// info, object info, property values) — GetObject and friends stream
// straight through to/from the caller's io.Writer/io.Reader.
type Session struct {
	pk   *Packetizer
	pipe *BulkPipe
	cfg  Config
	log  *mtplog.ChildLogger

	// txMu serializes RunTransaction end to end (Command..Data..Response)
	// across callers, per the concurrency model's rule that a second
	// caller blocks until the first's transaction completes. It also
	// doubles as the lock AbortCurrentTransaction takes before draining
	// stale packets, so a drain can never interleave with a freshly
	// started transaction.
	txMu sync.Mutex

	mu      sync.Mutex
	session *sessionData

	info DeviceInfo

	getPartialObject64Supported bool
	editObjectSupported         bool
	objectPropsSupported        bool
}

func NewSession(pipe *BulkPipe, cfg Config, log *mtplog.ChildLogger) *Session {
	return &Session{
		pk:   NewPacketizer(pipe),
		pipe: pipe,
		cfg:  cfg,
		log:  log,
	}
}

// operationSupported reports whether the most recently fetched
// DeviceInfo.OperationsSupported contains code.
func (s *Session) operationSupported(code uint16) bool {
	for _, c := range s.info.OperationsSupported {
		if c == code {
			return true
		}
	}
	return false
}

// updateFeatureFlags recomputes the optional-cluster accessors from the
// DeviceInfo GetDeviceInfo just decoded into s.info. Per the component
// design, feature detection happens whenever DeviceInfo is (re)fetched,
// not only once at OpenSession time — a caller is free to call
// GetDeviceInfo again later and pick up a device's updated capabilities.
func (s *Session) updateFeatureFlags() {
	s.getPartialObject64Supported = s.operationSupported(OC_GetPartialObject64)
	s.editObjectSupported = s.operationSupported(OC_BeginEditObject)
	s.objectPropsSupported = s.operationSupported(OC_GetObjectPropsSupported)
}

func (s *Session) EditObjectSupported() bool {
	return s.editObjectSupported
}

func (s *Session) GetObjectPropsSupportedOnDevice() bool {
	return s.objectPropsSupported
}

// OpenSession starts a session with a randomly chosen, nonzero,
// non-0xFFFFFFFF session ID. Per the data model's transaction ID
// invariant — sequence starts at 1, 0 is reserved — the OpenSession
// command itself is the session's first transaction, carrying
// transaction_id 1; the sessionData is installed before the Command is
// sent so runTransaction's ID assignment picks it up. It is an error to
// call this twice without an intervening CloseSession.
func (s *Session) OpenSession() error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return SyncError("session already open")
	}
	sid := uint32(rand.Int31()) | 1
	s.session = &sessionData{sid: sid, tid: 1}
	s.mu.Unlock()

	req := Container{Code: OC_OpenSession, Param: []uint32{sid}}
	var rep Container
	if err := s.runTransaction(&req, &rep, nil, nil, 0); err != nil {
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// CloseSession closes the open session. Safe to call when no session is
// open, matching the teacher's Close-on-idle behavior.
func (s *Session) CloseSession() error {
	s.mu.Lock()
	open := s.session != nil
	s.mu.Unlock()
	if !open {
		return nil
	}
	req := Container{Code: OC_CloseSession}
	var rep Container
	err := s.runTransaction(&req, &rep, nil, nil, 0)
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return err
}

// CurrentTransactionID returns the transaction ID of the transaction
// presently in flight, or 0 if none is — the value AbortCurrentTransaction
// needs to build its cancel request.
func (s *Session) CurrentTransactionID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0
	}
	return s.session.active
}

// RunTransaction sends req as a Command, optionally streams src as its
// Data-out phase or streams a Data-in phase into dest, and returns the
// decoded Response in rep. At most one of dest/src may be set. Per the
// concurrency model, at most one transaction runs on a Session at a
// time: a second caller blocks on txMu until the first's Command/Data/
// Response cycle (or AbortCurrentTransaction's drain) has finished.
func (s *Session) RunTransaction(req *Container, rep *Container, dest io.Writer, src io.Reader, writeSize int64) error {
	if err := s.runTransaction(req, rep, dest, src, writeSize); err != nil {
		switch err.(type) {
		case SyncError, DisconnectedError:
			s.log.Error("fatal transaction error, session desynchronized: ", err)
		}
		return err
	}
	return nil
}

func (s *Session) runTransaction(req *Container, rep *Container, dest io.Writer, src io.Reader, writeSize int64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	var tid uint32
	if s.session != nil {
		req.SessionID = s.session.sid
		tid = s.session.tid
		req.TransactionID = tid
		s.session.tid++
		s.session.active = tid
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.session != nil {
			s.session.active = 0
		}
		s.mu.Unlock()
	}()

	if s.log.IsDebug() {
		s.log.Debugf("request %s %v", OC_names[int(req.Code)], req.Param)
	}

	timeout := s.cfg.WriteTimeout
	if err := s.pk.WriteCommand(req.Code, req.TransactionID, req.Param, timeout); err != nil {
		return err
	}

	if src != nil {
		if err := s.pk.WriteData(req.Code, req.TransactionID, src, writeSize, s.cfg.WriteTimeout); err != nil {
			return err
		}
	}

	var unexpectedData bool
	var payloadDst io.Writer = dest
	if payloadDst == nil {
		payloadDst = io.Discard
	}

	hdr, err := s.pk.Read(payloadDst, s.cfg.ReadTimeout)
	if err != nil {
		return err
	}

	if hdr.Type == USB_CONTAINER_DATA {
		if dest == nil {
			unexpectedData = true
			s.log.Debugf("discarding unexpected data for %s", OC_names[int(req.Code)])
		}
		hdr, err = s.pk.Read(nil, s.cfg.ReadTimeout)
		if err != nil {
			return err
		}
	}

	if hdr.Type != USB_CONTAINER_RESPONSE {
		return SyncError(fmt.Sprintf("got container type %d (%s), want response",
			hdr.Type, USB_names[int(hdr.Type)]))
	}

	rep.Code = hdr.Code
	rep.TransactionID = hdr.TransactionID
	rep.Param = hdr.Param

	if s.log.IsDebug() {
		s.log.Debugf("response %s %v", RC_names[int(rep.Code)], rep.Param)
	}

	if unexpectedData {
		return SyncError(fmt.Sprintf("unexpected data for %s", OC_names[int(req.Code)]))
	}
	if rep.Code != RC_OK {
		return ProtocolError{RCError: RCError(rep.Code), Op: req.Code}
	}

	s.mu.Lock()
	haveSession := s.session != nil
	s.mu.Unlock()
	if haveSession && rep.TransactionID != tid {
		return SyncError(fmt.Sprintf("transaction ID mismatch: got 0x%x want 0x%x", rep.TransactionID, tid))
	}
	rep.SessionID = req.SessionID
	return nil
}

// AbortCurrentTransaction is component F's caller-facing API: it is safe
// to invoke from any goroutine, including one other than whichever is
// blocked inside RunTransaction. It issues the class-specific Cancel
// Transaction control request (bmRequestType 0x21, bRequest 0x64, six
// bytes of data: the CancelTransaction event code followed by the
// aborted transaction's ID, both little-endian) with interruptCurrent
// set, which makes BulkPipe discard whatever URB is outstanding and
// wake its waiter with CancelledError — unwinding the stuck
// RunTransaction call.
//
// Once the control transfer itself has been issued, this call takes
// txMu — which blocks until the unwound RunTransaction has released it
// — and then drains whatever stray Data/Response bytes the device
// still sends for the cancelled transaction, up to the remaining
// timeout, before clearing both bulk endpoints. Only after this call
// returns is the Session guaranteed ready for a fresh transaction.
//
// timeout<=0 falls back to cfg.ControlTimeout, the same bound
// DefaultConfig sets aside for this call specifically.
func (s *Session) AbortCurrentTransaction(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.ControlTimeout
	}
	tid := s.CurrentTransactionID()
	data := make([]byte, 6)
	byteOrder.PutUint16(data[0:2], EC_CancelTransaction)
	byteOrder.PutUint32(data[2:6], tid)

	deadline := time.Now().Add(timeout)
	if err := s.pipe.SubmitControl(cancelRequestType, cancelRequest, 0, s.cfg.InterfaceNumber, data, true, timeout); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.drainStale(time.Until(deadline))

	if err := s.pipe.ClearHalt(); err != nil {
		s.log.Warning("clear halt after abort: ", err)
	}
	return nil
}

// drainStale reads and discards containers until a Response is seen, an
// error occurs (most commonly a timeout once the device has nothing
// left to say), or the deadline implied by remaining runs out. It must
// be called with txMu held, so nothing else can start a transaction
// while stale bytes are still in flight on the bulk IN endpoint.
func (s *Session) drainStale(remaining time.Duration) {
	deadline := time.Now().Add(remaining)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		hdr, err := s.pk.Read(nil, left)
		if err != nil {
			return
		}
		if hdr.Type == USB_CONTAINER_RESPONSE {
			return
		}
	}
}

// decodeInto runs a no-payload-in transaction and decodes its Data-in
// phase into v using the reflection codec, for the many operations whose
// entire response is one MTP dataset.
func (s *Session) decodeInto(req *Container, v interface{}) error {
	var rep Container
	var buf bytes.Buffer
	if err := s.RunTransaction(req, &rep, &buf, nil, 0); err != nil {
		return err
	}
	return Decode(&buf, v)
}
