package mtp

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Packetizer is component B: it owns container header assembly and
// disassembly, handing BulkPipe a flat byte stream to write/read without
// BulkPipe ever needing to know where a header ends and a payload
// begins. usbHdrLen/usbBulkHeader (types.go) are the wire layout;
// Packetizer is what actually puts them on the wire and takes them off.
type Packetizer struct {
	pipe *BulkPipe
}

func NewPacketizer(pipe *BulkPipe) *Packetizer {
	return &Packetizer{pipe: pipe}
}

// WriteCommand sends a Command container: 12-byte header plus up to
// five u32 parameters, no payload.
func (pk *Packetizer) WriteCommand(code uint16, transactionID uint32, params []uint32, timeout time.Duration) error {
	buf := &bytes.Buffer{}
	hdr := usbBulkHeader{
		Length:        uint32(usbHdrLen + 4*len(params)),
		Type:          USB_CONTAINER_COMMAND,
		Code:          code,
		TransactionID: transactionID,
	}
	if err := binary.Write(buf, byteOrder, hdr); err != nil {
		return err
	}
	for _, p := range params {
		if err := binary.Write(buf, byteOrder, p); err != nil {
			return err
		}
	}
	total := int64(buf.Len())
	return pk.pipe.Write(readerOf(buf), total, timeout)
}

// WriteData sends a Data container: 12-byte header then exactly
// payloadLen bytes read from r.
func (pk *Packetizer) WriteData(code uint16, transactionID uint32, r io.Reader, payloadLen int64, timeout time.Duration) error {
	hdrBuf := &bytes.Buffer{}
	hdr := usbBulkHeader{
		Length:        uint32(usbHdrLen) + uint32(payloadLen),
		Type:          USB_CONTAINER_DATA,
		Code:          code,
		TransactionID: transactionID,
	}
	if err := binary.Write(hdrBuf, byteOrder, hdr); err != nil {
		return err
	}

	total := int64(hdrBuf.Len()) + payloadLen
	combined := io.MultiReader(hdrBuf, io.LimitReader(r, payloadLen))
	return pk.pipe.Write(readerOf(combined), total, timeout)
}

// ContainerHeader is the decoded 12-byte header plus, for Command,
// Response and Event containers, up to five trailing u32 parameters.
type ContainerHeader struct {
	Length        uint32
	Type          uint16
	Code          uint16
	TransactionID uint32
	Param         []uint32
}

// Read accumulates bytes from the bulk IN endpoint until the 12-byte
// header is complete, decodes it, and then either captures up to five
// trailing u32 parameters (Command/Response/Event) or streams the
// remaining payload directly into dst (Data) as chunks arrive — it
// never buffers a Data container's payload in full, so GetObject on a
// multi-gigabyte file does not balloon memory. dst is ignored for
// non-Data containers and may be nil when the caller has none.
func (pk *Packetizer) Read(dst io.Writer, timeout time.Duration) (ContainerHeader, error) {
	var hdr ContainerHeader
	var headerBuf bytes.Buffer
	var paramBuf bytes.Buffer
	headerDone := false

	cb := writerFunc(func(chunk []byte) error {
		if !headerDone {
			need := usbHdrLen - headerBuf.Len()
			if need > len(chunk) {
				headerBuf.Write(chunk)
				return nil
			}
			headerBuf.Write(chunk[:need])
			chunk = chunk[need:]

			var raw usbBulkHeader
			if err := binary.Read(&headerBuf, byteOrder, &raw); err != nil {
				return InvalidResponseError(err.Error())
			}
			hdr = ContainerHeader{
				Length:        raw.Length,
				Type:          raw.Type,
				Code:          raw.Code,
				TransactionID: raw.TransactionID,
			}
			headerDone = true
		}
		if len(chunk) == 0 {
			return nil
		}
		switch hdr.Type {
		case USB_CONTAINER_COMMAND, USB_CONTAINER_RESPONSE, USB_CONTAINER_EVENT:
			paramBuf.Write(chunk)
			return nil
		case USB_CONTAINER_DATA:
			if dst == nil {
				return nil
			}
			_, err := dst.Write(chunk)
			return err
		default:
			return InvalidResponseError("unknown container type")
		}
	})

	if _, err := pk.pipe.Read(cb, timeout); err != nil {
		return ContainerHeader{}, err
	}
	if !headerDone {
		return ContainerHeader{}, InvalidResponseError("short container header")
	}

	for paramBuf.Len() >= 4 {
		var p uint32
		if err := binary.Read(&paramBuf, byteOrder, &p); err != nil {
			break
		}
		hdr.Param = append(hdr.Param, p)
	}
	return hdr, nil
}

// readerOf adapts an io.Reader to the readerFunc signature BulkPipe.Write
// expects, translating io.ReadFull's ErrUnexpectedEOF/EOF into the plain
// "short read ends the container" signal BulkPipe's write loop looks for.
func readerOf(r io.Reader) readerFunc {
	return func(buf []byte) (int, error) {
		n, err := io.ReadFull(r, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return n, io.EOF
		}
		return n, err
	}
}
