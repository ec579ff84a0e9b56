package mtp

import (
	"sync"
	"time"
)

// fakeBackend is an in-memory BulkBackend standing in for a kernel USB
// driver: it understands just enough of the container wire format
// (the 12-byte header, Command/Data/Response framing) to drive a
// scripted MTP responder without real hardware. Most scenarios here
// configure BulkPipe's chunk size (MaxPacketSize * URBPacketsPerBuffer)
// to comfortably exceed every container exchanged, so each SubmitBulk
// call carries one complete container rather than a fragment of one;
// pipe_test.go is the exception, deliberately shrinking the chunk size
// below the payload to exercise multi-URB chunking and continuation
// flags directly against this fake.
type fakeBackend struct {
	maxPacket int

	device deviceResponder

	mu         sync.Mutex
	pendingCmd *ContainerHeader

	inChunks    chan []byte
	completions chan fakeCompletion
	nextID      URBHandle
	discarded   map[URBHandle]bool

	controlMu  sync.Mutex
	controls   []controlCall
	clearHalts int

	silence map[uint16]bool // opcodes the device never answers, for timeout tests

	bulkOutMu            sync.Mutex
	bulkOutContinuations []bool // continuation flag of each EndpointBulkOut SubmitBulk call, in order
}

type controlCall struct {
	reqType, req uint8
	value, index uint16
	data         []byte
}

type fakeCompletion struct {
	h   URBHandle
	n   int
	err error
}

// deviceResponder plays the part of the MTP device: given a fully
// reassembled Command (and its Data-out payload, if any), it returns
// the Data-in payload (nil if none), the response code and the
// response parameters.
type deviceResponder func(cmd ContainerHeader, dataOut []byte) (dataIn []byte, rc uint16, params []uint32)

// dataOutOpcodes lists the opcodes that carry a Data-out phase in this
// test harness's scripted scenarios, matching the operations ops.go
// implements with a src reader.
var dataOutOpcodes = map[uint16]bool{
	OC_SendObjectInfo:         true,
	OC_SendObject:             true,
	OC_MTP_SetObjectPropValue: true,
	OC_SendPartialObject:      true,
	OC_SetDevicePropValue:     true,
}

func newFakeBackend(maxPacket int, device deviceResponder) *fakeBackend {
	return &fakeBackend{
		maxPacket:   maxPacket,
		device:      device,
		inChunks:    make(chan []byte, 64),
		completions: make(chan fakeCompletion, 64),
		discarded:   map[URBHandle]bool{},
		silence:     map[uint16]bool{},
	}
}

func (f *fakeBackend) MaxPacketSize(ep Endpoint) int {
	return f.maxPacket
}

func (f *fakeBackend) SubmitBulk(ep Endpoint, buf []byte, continuation bool) (URBHandle, error) {
	f.mu.Lock()
	f.nextID++
	h := f.nextID
	f.mu.Unlock()

	cp := append([]byte{}, buf...)
	switch ep {
	case EndpointBulkOut:
		f.bulkOutMu.Lock()
		f.bulkOutContinuations = append(f.bulkOutContinuations, continuation)
		f.bulkOutMu.Unlock()

		// Processed off the calling goroutine: SubmitBulk must return
		// before the transfer actually lands, the same assumption a
		// real async backend's submit/reap split relies on.
		go func() {
			f.handleContainer(cp)
			f.completions <- fakeCompletion{h: h, n: len(cp)}
		}()
	case EndpointBulkIn:
		go func() {
			chunk := <-f.inChunks
			n := copy(buf, chunk)
			f.completions <- fakeCompletion{h: h, n: n}
		}()
	}
	return h, nil
}

func (f *fakeBackend) Reap(timeout time.Duration) (URBHandle, int, error) {
	if timeout <= 0 {
		select {
		case c := <-f.completions:
			if h, n, err, ok := f.resolve(c); ok {
				return h, n, err
			}
			return 0, 0, TimeoutError("")
		default:
			return 0, 0, TimeoutError("")
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case c := <-f.completions:
			if h, n, err, ok := f.resolve(c); ok {
				return h, n, err
			}
		case <-t.C:
			return 0, 0, TimeoutError("")
		}
	}
}

func (f *fakeBackend) resolve(c fakeCompletion) (URBHandle, int, error, bool) {
	f.mu.Lock()
	skip := f.discarded[c.h]
	delete(f.discarded, c.h)
	f.mu.Unlock()
	if skip {
		return 0, 0, nil, false
	}
	return c.h, c.n, c.err, true
}

func (f *fakeBackend) Discard(h URBHandle) error {
	f.mu.Lock()
	f.discarded[h] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) ControlTransfer(reqType, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	f.controlMu.Lock()
	f.controls = append(f.controls, controlCall{reqType, req, value, index, append([]byte{}, data...)})
	f.controlMu.Unlock()
	return len(data), nil
}

func (f *fakeBackend) ClearHalt(ep Endpoint) error {
	f.controlMu.Lock()
	f.clearHalts++
	f.controlMu.Unlock()
	return nil
}

func (f *fakeBackend) Close() error { return nil }

// bulkOutContinuationFlags returns the continuation flag recorded
// against each EndpointBulkOut SubmitBulk call, in submission order.
func (f *fakeBackend) bulkOutContinuationFlags() []bool {
	f.bulkOutMu.Lock()
	defer f.bulkOutMu.Unlock()
	return append([]bool{}, f.bulkOutContinuations...)
}

// handleContainer decodes one complete Command or Data container
// (header plus payload, already fully assembled by the caller) and
// either stashes it as the pending Command awaiting its Data-out phase
// or dispatches it to the device responder.
func (f *fakeBackend) handleContainer(raw []byte) {
	if len(raw) < usbHdrLen {
		return
	}
	hdr := ContainerHeader{
		Length:        byteOrder.Uint32(raw[0:4]),
		Type:          byteOrder.Uint16(raw[4:6]),
		Code:          byteOrder.Uint16(raw[6:8]),
		TransactionID: byteOrder.Uint32(raw[8:12]),
	}
	rest := raw[usbHdrLen:]

	switch hdr.Type {
	case USB_CONTAINER_COMMAND:
		for i := 0; i+4 <= len(rest); i += 4 {
			hdr.Param = append(hdr.Param, byteOrder.Uint32(rest[i:]))
		}
		if dataOutOpcodes[hdr.Code] {
			f.mu.Lock()
			f.pendingCmd = &hdr
			f.mu.Unlock()
			return
		}
		f.dispatch(hdr, nil)
	case USB_CONTAINER_DATA:
		f.mu.Lock()
		cmd := f.pendingCmd
		f.pendingCmd = nil
		f.mu.Unlock()
		if cmd != nil {
			f.dispatch(*cmd, rest)
		}
	}
}

func (f *fakeBackend) dispatch(cmd ContainerHeader, dataOut []byte) {
	f.mu.Lock()
	silent := f.silence[cmd.Code]
	f.mu.Unlock()
	if silent {
		return
	}

	dataIn, rc, params := f.device(cmd, dataOut)

	if dataIn != nil {
		f.queueContainer(USB_CONTAINER_DATA, cmd.Code, cmd.TransactionID, dataIn)
	}
	f.queueContainer(USB_CONTAINER_RESPONSE, rc, cmd.TransactionID, encodeParams(params))
}

func (f *fakeBackend) queueContainer(typ, code uint16, tid uint32, payload []byte) {
	buf := make([]byte, usbHdrLen+len(payload))
	byteOrder.PutUint32(buf[0:4], uint32(usbHdrLen+len(payload)))
	byteOrder.PutUint16(buf[4:6], typ)
	byteOrder.PutUint16(buf[6:8], code)
	byteOrder.PutUint32(buf[8:12], tid)
	copy(buf[usbHdrLen:], payload)
	f.inChunks <- buf
}

func encodeParams(params []uint32) []byte {
	out := make([]byte, 4*len(params))
	for i, p := range params {
		byteOrder.PutUint32(out[4*i:], p)
	}
	return out
}
