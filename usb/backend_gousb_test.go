package usb

import (
	"sync"
	"testing"
	"time"

	"github.com/hanwen/go-mtp-session/mtp"
)

// fakeGousbEndpoint satisfies both gousbReader and gousbWriter; a given
// test only calls the half its direction actually uses.
type fakeGousbEndpoint struct {
	mu    sync.Mutex
	calls int
	reply []byte
	err   error
}

func (f *fakeGousbEndpoint) Read(buf []byte) (int, error) {
	f.mu.Lock()
	f.calls++
	reply, err := f.reply, f.err
	f.mu.Unlock()
	return copy(buf, reply), err
}

func (f *fakeGousbEndpoint) Write(buf []byte) (int, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	return len(buf), err
}

type fakeGousbController struct {
	mu       sync.Mutex
	controls [][2]uint8 // {reqType, req} pairs, in order
	err      error
}

func (f *fakeGousbController) Control(reqType, req uint8, val, idx uint16, data []byte) (int, error) {
	f.mu.Lock()
	f.controls = append(f.controls, [2]uint8{reqType, req})
	err := f.err
	f.mu.Unlock()
	return len(data), err
}

type fakeGousbCloser struct {
	closed bool
}

func (f *fakeGousbCloser) Close() error {
	f.closed = true
	return nil
}

func newTestBackendGoUSB(in, out *fakeGousbEndpoint, dev *fakeGousbController, config, iface *fakeGousbCloser) *BackendGoUSB {
	b := &BackendGoUSB{
		dev:          dev,
		config:       config,
		iface:        iface,
		in:           in,
		inMaxPacket:  64,
		out:          out,
		outMaxPacket: 64,
		discarded:    map[mtp.URBHandle]bool{},
		completions:  make(chan completion, 64),
	}
	return b
}

// TestBackendGoUSBSubmitBulkReap exercises BackendGoUSB's submit/reap
// path against fake endpoints, the gousb analogue of
// TestBackendSubmitBulkReap one file over. The backend is built by
// newTestBackendGoUSB, since NewBackendGoUSB takes concrete gousb types.
func TestBackendGoUSBSubmitBulkReap(t *testing.T) {
	in := &fakeGousbEndpoint{reply: []byte("hello")}
	out := &fakeGousbEndpoint{}
	b := newTestBackendGoUSB(in, out, &fakeGousbController{}, &fakeGousbCloser{}, &fakeGousbCloser{})

	handle, err := b.SubmitBulk(mtp.EndpointBulkIn, make([]byte, 16), false)
	if err != nil {
		t.Fatalf("SubmitBulk: %v", err)
	}

	gotH, n, err := b.Reap(time.Second)
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if gotH != handle {
		t.Fatalf("Reap returned handle %v, want %v", gotH, handle)
	}
	if n != 5 {
		t.Fatalf("Reap returned n=%d, want 5", n)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.calls != 1 {
		t.Fatalf("in.Read calls = %d, want 1", in.calls)
	}
}

func TestBackendGoUSBDiscardSuppressesReap(t *testing.T) {
	in := &fakeGousbEndpoint{}
	out := &fakeGousbEndpoint{}
	b := newTestBackendGoUSB(in, out, &fakeGousbController{}, &fakeGousbCloser{}, &fakeGousbCloser{})

	handle, err := b.SubmitBulk(mtp.EndpointBulkOut, []byte("x"), false)
	if err != nil {
		t.Fatalf("SubmitBulk: %v", err)
	}
	if err := b.Discard(handle); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	_, _, err = b.Reap(100 * time.Millisecond)
	if !mtp.IsTimeout(err) {
		t.Fatalf("Reap after Discard returned %v, want TimeoutError", err)
	}
}

func TestBackendGoUSBControlTransfer(t *testing.T) {
	dev := &fakeGousbController{}
	b := newTestBackendGoUSB(&fakeGousbEndpoint{}, &fakeGousbEndpoint{}, dev, &fakeGousbCloser{}, &fakeGousbCloser{})

	if _, err := b.ControlTransfer(0x21, 0x64, 0, 0, []byte{1, 2, 3}, time.Second); err != nil {
		t.Fatalf("ControlTransfer: %v", err)
	}
	if len(dev.controls) != 1 || dev.controls[0][1] != 0x64 {
		t.Fatalf("control calls = %v, want [{_, 0x64}]", dev.controls)
	}
}

// TestBackendGoUSBClearHaltNotSupported pins down the documented gap:
// gousb exposes no libusb_clear_halt equivalent, so ClearHalt must
// report NotSupportedError rather than silently no-op.
func TestBackendGoUSBClearHaltNotSupported(t *testing.T) {
	b := newTestBackendGoUSB(&fakeGousbEndpoint{}, &fakeGousbEndpoint{}, &fakeGousbController{}, &fakeGousbCloser{}, &fakeGousbCloser{})
	err := b.ClearHalt(mtp.EndpointBulkIn)
	if _, ok := err.(mtp.NotSupportedError); !ok {
		t.Fatalf("ClearHalt = %v (%T), want mtp.NotSupportedError", err, err)
	}
}

func TestBackendGoUSBClose(t *testing.T) {
	config := &fakeGousbCloser{}
	iface := &fakeGousbCloser{}
	b := newTestBackendGoUSB(&fakeGousbEndpoint{}, &fakeGousbEndpoint{}, &fakeGousbController{}, config, iface)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !config.closed || !iface.closed {
		t.Fatalf("Close did not reach config/iface: config=%v iface=%v", config.closed, iface.closed)
	}
}

func TestBackendGoUSBMaxPacketSize(t *testing.T) {
	b := newTestBackendGoUSB(&fakeGousbEndpoint{}, &fakeGousbEndpoint{}, &fakeGousbController{}, &fakeGousbCloser{}, &fakeGousbCloser{})
	if got := b.MaxPacketSize(mtp.EndpointBulkIn); got != 64 {
		t.Fatalf("MaxPacketSize(BulkIn) = %d, want 64", got)
	}
	if got := b.MaxPacketSize(mtp.EndpointInterruptIn); got != 0 {
		t.Fatalf("MaxPacketSize(InterruptIn) = %d, want 0 (no interrupt endpoint configured)", got)
	}
}
