package mtp

import "io"

// EditObjectSession scopes the begin/truncate/send/end bracket the
// extension cluster requires around any in-place modification of an
// existing object: the device will reject TruncateObject/SendPartialObject
// outside a Begin/EndEditObject pair, so this type exists to make that
// bracket impossible to get wrong from the caller's side.
type EditObjectSession struct {
	session *Session
	handle  uint32
	closed  bool
}

// BeginEditObject opens an edit session on handle. It fails with
// NotSupportedError if the most recently fetched DeviceInfo (see
// Session.GetDeviceInfo) did not advertise BeginEditObject.
func BeginEditObject(session *Session, handle uint32) (*EditObjectSession, error) {
	if !session.EditObjectSupported() {
		return nil, NotSupportedError("edit-object extension")
	}
	if err := session.beginEditObject(handle); err != nil {
		return nil, err
	}
	return &EditObjectSession{session: session, handle: handle}, nil
}

// Truncate resizes the object to newSize, which may be larger or
// smaller than its current size.
func (e *EditObjectSession) Truncate(newSize uint64) error {
	if e.closed {
		return SyncError("edit session already closed")
	}
	return e.session.truncateObject(e.handle, newSize)
}

// Send writes len(data) bytes at offset, overwriting whatever was there.
func (e *EditObjectSession) Send(offset uint64, data []byte) error {
	if e.closed {
		return SyncError("edit session already closed")
	}
	r := io.NopCloser(newByteReader(data))
	return e.session.sendPartialObject(e.handle, offset, r, int64(len(data)))
}

// Close commits the edit by sending EndEditObject. Safe to call more
// than once; only the first call talks to the device.
func (e *EditObjectSession) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.session.endEditObject(e.handle)
}

func newByteReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

type byteReader struct {
	b []byte
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
