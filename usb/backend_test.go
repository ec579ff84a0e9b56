package usb

import (
	"sync"
	"testing"
	"time"

	"github.com/hanwen/go-mtp-session/mtp"
)

// fakeLibusbHandle stands in for *DeviceHandle in tests: it implements
// libusbHandle without linking libusb or touching real hardware, the
// same role fakeBackend plays one layer up for mtp.BulkBackend.
type fakeLibusbHandle struct {
	mu sync.Mutex

	bulkCalls    []byte // endpoint addresses passed to BulkTransfer, in order
	bulkReply    []byte
	bulkErr      error
	controlCalls []byte
	controlErr   error
	clearHalts   []byte
	configured   byte
	configErr    error
	closed       bool
}

func (f *fakeLibusbHandle) BulkTransfer(endpoint byte, data []byte, timeout int) (int, error) {
	f.mu.Lock()
	f.bulkCalls = append(f.bulkCalls, endpoint)
	reply := f.bulkReply
	err := f.bulkErr
	f.mu.Unlock()
	n := copy(data, reply)
	return n, err
}

func (f *fakeLibusbHandle) ControlTransfer(reqType, req byte, value, index uint16, data []byte, timeout int) error {
	f.mu.Lock()
	f.controlCalls = append(f.controlCalls, req)
	err := f.controlErr
	f.mu.Unlock()
	return err
}

func (f *fakeLibusbHandle) ClearHalt(endpoint byte) error {
	f.mu.Lock()
	f.clearHalts = append(f.clearHalts, endpoint)
	f.mu.Unlock()
	return nil
}

func (f *fakeLibusbHandle) GetConfiguration() (byte, error) {
	return f.configured, f.configErr
}

func (f *fakeLibusbHandle) Close() error {
	f.closed = true
	return nil
}

func newTestBackend(h *fakeLibusbHandle) *Backend {
	maxPacket := map[mtp.Endpoint]int{
		mtp.EndpointBulkIn:      64,
		mtp.EndpointBulkOut:     64,
		mtp.EndpointInterruptIn: 8,
	}
	return NewBackend(h, 0x81, 0x02, 0x83, maxPacket, time.Second)
}

// TestBackendSubmitBulkReap exercises NewBackend end-to-end against a
// fake libusbHandle: SubmitBulk starts the fake BulkTransfer on its own
// goroutine and Reap observes the completion once it lands, mirroring
// the submit/reap split BulkPipe expects from any mtp.BulkBackend.
func TestBackendSubmitBulkReap(t *testing.T) {
	h := &fakeLibusbHandle{bulkReply: []byte("hello")}
	b := newTestBackend(h)

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

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.bulkCalls) != 1 || h.bulkCalls[0] != 0x81 {
		t.Fatalf("BulkTransfer calls = %v, want [0x81]", h.bulkCalls)
	}
}

// TestBackendDiscardSuppressesReap checks that Discard marks a handle
// so its eventual completion is dropped instead of surfacing through
// Reap.
func TestBackendDiscardSuppressesReap(t *testing.T) {
	h := &fakeLibusbHandle{bulkReply: []byte("x")}
	b := newTestBackend(h)

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

func TestBackendControlTransferAndClearHalt(t *testing.T) {
	h := &fakeLibusbHandle{}
	b := newTestBackend(h)

	if _, err := b.ControlTransfer(0x21, 0x64, 0, 0, []byte{1, 2, 3}, time.Second); err != nil {
		t.Fatalf("ControlTransfer: %v", err)
	}
	if err := b.ClearHalt(mtp.EndpointBulkIn); err != nil {
		t.Fatalf("ClearHalt: %v", err)
	}

	if len(h.controlCalls) != 1 || h.controlCalls[0] != 0x64 {
		t.Fatalf("control calls = %v, want [0x64]", h.controlCalls)
	}
	if len(h.clearHalts) != 1 || h.clearHalts[0] != 0x81 {
		t.Fatalf("clear halt calls = %v, want [0x81]", h.clearHalts)
	}
}

func TestBackendGetConfiguration(t *testing.T) {
	h := &fakeLibusbHandle{configured: 3}
	b := newTestBackend(h)

	c, err := b.GetConfiguration()
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	if c != 3 {
		t.Fatalf("GetConfiguration = %d, want 3", c)
	}
}

func TestBackendCloseForwards(t *testing.T) {
	h := &fakeLibusbHandle{}
	b := newTestBackend(h)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !h.closed {
		t.Fatal("Close did not reach the underlying handle")
	}
}

func TestMapLibusbErr(t *testing.T) {
	cases := []struct {
		in   Error
		want func(error) bool
	}{
		{ERROR_TIMEOUT, mtp.IsTimeout},
	}
	for _, c := range cases {
		got := mapLibusbErr(c.in)
		if !c.want(got) {
			t.Errorf("mapLibusbErr(%v) = %v, unexpected type %T", c.in, got, got)
		}
	}

	if _, ok := mapLibusbErr(ERROR_NO_DEVICE).(mtp.DisconnectedError); !ok {
		t.Errorf("mapLibusbErr(ERROR_NO_DEVICE) did not produce a DisconnectedError")
	}
	if _, ok := mapLibusbErr(ERROR_BUSY).(mtp.BusyError); !ok {
		t.Errorf("mapLibusbErr(ERROR_BUSY) did not produce a BusyError")
	}
}
