package usb

import (
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/hanwen/go-mtp-session/mtp"
)

// gousbReader/gousbWriter/gousbController/gousbCloser are the slices of
// gousb's method set BackendGoUSB actually drives. It depends on these
// small interfaces rather than *gousb.InEndpoint/*gousb.OutEndpoint/
// *gousb.Device/*gousb.Config/*gousb.Interface directly so its
// submit/reap/discard bookkeeping can be exercised by plain Go fakes in
// tests, the same reasoning Backend applies to libusbHandle. The
// concrete gousb types satisfy these as-is; NewBackendGoUSB still takes
// them by their real types so callers get the real package's
// documentation and type safety.
type gousbReader interface {
	Read(buf []byte) (int, error)
}

type gousbWriter interface {
	Write(buf []byte) (int, error)
}

type gousbController interface {
	Control(reqType, req uint8, val, idx uint16, data []byte) (int, error)
}

type gousbCloser interface {
	Close() error
}

// BackendGoUSB is the gousb-based alternative to Backend: it adapts a
// claimed gousb interface instead of this package's own cgo libusb
// binding into the same mtp.BulkBackend. gousb itself wraps libusb
// through cgo, so both backends need libusb at build time. A deployment
// picks whichever binding it prefers — gousb with BackendGoUSB, or the
// direct libusb binding with Backend — and everything above BulkBackend (Packetizer,
// Session, the operation set) is unaware of the choice. Device
// enumeration, configuration selection and interface claiming happen
// before NewBackendGoUSB is called, exactly as with Backend.
//
// gousb's endpoint Read/Write calls are themselves synchronous, same
// as libusb_bulk_transfer underneath Backend, so BackendGoUSB reuses
// Backend's submit-on-a-goroutine/reap-from-a-channel shape rather than
// inventing a second one. The same corollary applies to Discard: gousb
// exposes no mid-transfer cancellation, so a discarded Read/Write keeps
// running in its goroutine until the device answers or the call
// returns on its own.
type BackendGoUSB struct {
	dev    gousbController
	config gousbCloser
	iface  gousbCloser

	in            gousbReader
	inMaxPacket   int
	out           gousbWriter
	outMaxPacket  int
	interruptIn   gousbReader
	interruptMax  int
	haveInterrupt bool

	mu        sync.Mutex
	nextID    mtp.URBHandle
	discarded map[mtp.URBHandle]bool

	completions chan completion
}

// NewBackendGoUSB wraps an already-opened config/interface pair as a
// mtp.BulkBackend. inMaxPacket/outMaxPacket/interruptMaxPacket are each
// endpoint's max-packet-size, read by the caller from the corresponding
// gousb.EndpointDesc at enumeration time — the same
// sendEPDesc/fetchEPDesc/eventEPDesc the teacher's own gousb device code
// keeps around for this purpose, since gousb's endpoint handles
// themselves don't expose their descriptor back. interruptIn may be nil
// if the interface exposes no interrupt-IN endpoint, in which case
// interruptMaxPacket is ignored. The caller-supplied Config's claimed
// interface number is whatever the caller itself passes as Session's
// Config.InterfaceNumber — this backend has no separate opinion on it.
func NewBackendGoUSB(dev *gousb.Device, config *gousb.Config, iface *gousb.Interface, in *gousb.InEndpoint, inMaxPacket int, out *gousb.OutEndpoint, outMaxPacket int, interruptIn *gousb.InEndpoint, interruptMaxPacket int) *BackendGoUSB {
	b := &BackendGoUSB{
		dev:          dev,
		config:       config,
		iface:        iface,
		in:           in,
		inMaxPacket:  inMaxPacket,
		out:          out,
		outMaxPacket: outMaxPacket,
		discarded:    map[mtp.URBHandle]bool{},
		completions:  make(chan completion, 64),
	}
	if interruptIn != nil {
		b.interruptIn = interruptIn
		b.interruptMax = interruptMaxPacket
		b.haveInterrupt = true
	}
	return b
}

func (b *BackendGoUSB) MaxPacketSize(ep mtp.Endpoint) int {
	switch ep {
	case mtp.EndpointBulkIn:
		return b.inMaxPacket
	case mtp.EndpointBulkOut:
		return b.outMaxPacket
	case mtp.EndpointInterruptIn:
		if !b.haveInterrupt {
			return 0
		}
		return b.interruptMax
	default:
		return 0
	}
}

// SubmitBulk mirrors Backend.SubmitBulk: it hands buf to the
// appropriate endpoint's blocking Read/Write on its own goroutine and
// returns a handle immediately, before the transfer has necessarily
// completed.
func (b *BackendGoUSB) SubmitBulk(ep mtp.Endpoint, buf []byte, continuation bool) (mtp.URBHandle, error) {
	b.mu.Lock()
	b.nextID++
	h := b.nextID
	b.mu.Unlock()

	switch ep {
	case mtp.EndpointBulkOut:
		go func() {
			n, err := b.out.Write(buf)
			b.completions <- completion{h: h, n: n, err: mapGoUSBErr(err)}
		}()
	case mtp.EndpointBulkIn:
		go func() {
			n, err := b.in.Read(buf)
			b.completions <- completion{h: h, n: n, err: mapGoUSBErr(err)}
		}()
	case mtp.EndpointInterruptIn:
		go func() {
			n, err := b.interruptIn.Read(buf)
			b.completions <- completion{h: h, n: n, err: mapGoUSBErr(err)}
		}()
	}
	return h, nil
}

func (b *BackendGoUSB) Reap(timeout time.Duration) (mtp.URBHandle, int, error) {
	if timeout <= 0 {
		select {
		case c := <-b.completions:
			if h, n, err, ok := b.resolve(c); ok {
				return h, n, err
			}
			return 0, 0, mtp.TimeoutError("")
		default:
			return 0, 0, mtp.TimeoutError("")
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case c := <-b.completions:
			if h, n, err, ok := b.resolve(c); ok {
				return h, n, err
			}
		case <-t.C:
			return 0, 0, mtp.TimeoutError("")
		}
	}
}

func (b *BackendGoUSB) resolve(c completion) (mtp.URBHandle, int, error, bool) {
	b.mu.Lock()
	skip := b.discarded[c.h]
	delete(b.discarded, c.h)
	b.mu.Unlock()
	if skip {
		return 0, 0, nil, false
	}
	return c.h, c.n, c.err, true
}

// Discard drops h's eventual completion; see the type doc comment for
// why the underlying gousb call cannot be aborted early.
func (b *BackendGoUSB) Discard(h mtp.URBHandle) error {
	b.mu.Lock()
	b.discarded[h] = true
	b.mu.Unlock()
	return nil
}

func (b *BackendGoUSB) ControlTransfer(reqType, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	n, err := b.dev.Control(reqType, req, value, index, data)
	return n, mapGoUSBErr(err)
}

// ClearHalt has no gousb equivalent: the library claims an interface's
// endpoints as part of opening it and does not expose libusb_clear_halt
// directly. Rather than silently no-op, this reports NotSupportedError
// so a caller relying on AbortCurrentTransaction's post-drain clear
// knows this backend cannot perform it; a deployment that needs real
// halt clearing on the gousb path should use Backend instead.
func (b *BackendGoUSB) ClearHalt(ep mtp.Endpoint) error {
	return mtp.NotSupportedError("gousb backend cannot clear a halted endpoint")
}

func (b *BackendGoUSB) Close() error {
	b.iface.Close()
	return mapGoUSBErr(b.config.Close())
}

// mapGoUSBErr passes gousb's errors through unchanged: unlike the cgo
// binding's Error type, gousb already returns descriptive errors from
// the standard library's usb transfer status codes. BulkPipe's reap loop
// only special-cases mtp.TimeoutError (via mtp.IsTimeout), which gousb's
// error values do not satisfy; any other Reap error fails every pending
// URB with mtp.DisconnectedError. A future gousb release that exposes
// typed transfer statuses can be mapped here the same way Backend maps
// libusb's Error.
func mapGoUSBErr(err error) error {
	return err
}
