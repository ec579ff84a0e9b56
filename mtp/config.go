package mtp

import "time"

// DebugFlags names the per-subsystem tracing toggles, renamed from the
// USB/MTP/Data split of the original device driver into the three
// components that need independent toggles here. Config.Debug carries
// them, but NewBulkPipe and NewSession do not read it: tracing follows
// the ChildLoggers passed to them (see mtplog.PrepareChildren).
type DebugFlags struct {
	Pipe    bool
	Session bool
	Codec   bool
}

// Config holds the construction-time knobs for a Session and its
// BulkPipe. There is no config file or flag-parsing layer in the core —
// CLI front-ends are an external collaborator — so callers build one of
// these directly, the same way the teacher driver built a DebugFlags
// struct literal.
type Config struct {
	// ReadTimeout and WriteTimeout bound a single bulk transfer call.
	// Zero means poll-once, negative means wait forever.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ControlTimeout bounds a single control transfer. It is also the
	// default AbortCurrentTransaction uses for its own cancellation
	// control transfer when called with timeout<=0.
	ControlTimeout time.Duration

	// URBPacketsPerBuffer caps how many max-packet-size packets are
	// coalesced into a single URB buffer; 1024 for bulk endpoints per
	// the data model, 1 for interrupt/control.
	URBPacketsPerBuffer int

	// MaxOutstandingURBs bounds how many URBs may be submitted and
	// unreaped at once across the pipe's bulk endpoints.
	MaxOutstandingURBs int64

	// ReapPollInterval paces the background reap loop's idle poll when
	// nothing is pending.
	ReapPollInterval time.Duration

	// InterfaceNumber is the claimed USB interface number, used as the
	// wIndex of the class-specific control transfers AbortCurrentTransaction
	// issues. The backend that claimed the interface is responsible for
	// telling the caller which number that was.
	InterfaceNumber uint16

	Debug DebugFlags
}

// DefaultConfig mirrors the teacher's const rwBufSize = 0x4000 texture:
// one conservative, named default rather than a pile of magic numbers
// scattered through pipe.go.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		ControlTimeout:      2 * time.Second,
		URBPacketsPerBuffer: 1024,
		MaxOutstandingURBs:  4,
		ReapPollInterval:    50 * time.Millisecond,
	}
}
