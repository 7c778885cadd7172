package stream

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/technosupport/firewatch/internal/metrics"
)

// DefaultMaxFrameBytes bounds the reassembly buffer for a single frame.
const DefaultMaxFrameBytes = 8 << 20

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// JPEGSplitter reassembles complete JPEG segments (SOI..EOI inclusive) from an
// arbitrary byte stream such as an MJPEG multipart body. Bytes outside a
// segment are discarded. A desync (EOI seen before SOI, or a segment growing
// past MaxFrameBytes) drops data up to the next SOI and is counted, never
// returned as an error.
type JPEGSplitter struct {
	r             io.Reader
	buf           []byte
	chunk         []byte
	maxFrameBytes int
	desyncs       atomic.Uint64
}

func NewJPEGSplitter(r io.Reader, maxFrameBytes int) *JPEGSplitter {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &JPEGSplitter{
		r:             r,
		chunk:         make([]byte, 32*1024),
		maxFrameBytes: maxFrameBytes,
	}
}

// Desyncs returns the number of discarded segments so far.
func (s *JPEGSplitter) Desyncs() uint64 {
	return s.desyncs.Load()
}

// MarkDesync records a segment rejected downstream (for example, undecodable).
func (s *JPEGSplitter) MarkDesync() {
	s.desyncs.Add(1)
	metrics.DecodeDesyncTotal.Inc()
}

// Next returns the next complete segment. It returns the reader's error once
// no complete segment remains; a trailing partial segment is dropped.
func (s *JPEGSplitter) Next() ([]byte, error) {
	for {
		if seg, ok := s.extract(); ok {
			return seg, nil
		}

		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
			continue
		}
		if err != nil {
			s.buf = s.buf[:0]
			return nil, err
		}
	}
}

func (s *JPEGSplitter) extract() ([]byte, bool) {
	for {
		seg, ok, retry := s.extractOnce()
		if !retry {
			return seg, ok
		}
	}
}

func (s *JPEGSplitter) extractOnce() (seg []byte, ok, retry bool) {
	start := bytes.Index(s.buf, soi)
	if start < 0 {
		if bytes.Contains(s.buf, eoi) {
			s.MarkDesync()
		}
		// Keep a trailing 0xFF; it may be the first half of the next SOI.
		if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
			s.buf = append(s.buf[:0], 0xFF)
		} else {
			s.buf = s.buf[:0]
		}
		return nil, false, false
	}
	if start > 0 {
		if bytes.Contains(s.buf[:start], eoi) {
			s.MarkDesync()
		}
		s.buf = s.buf[start:]
	}

	end := bytes.Index(s.buf[len(soi):], eoi)
	if end >= 0 {
		end += len(soi) + len(eoi)
	}
	if (end < 0 && len(s.buf) > s.maxFrameBytes) || end > s.maxFrameBytes {
		s.MarkDesync()
		s.buf = s.buf[len(soi):]
		return nil, false, true
	}
	if end < 0 {
		return nil, false, false
	}

	seg = make([]byte, end)
	copy(seg, s.buf[:end])
	s.buf = s.buf[end:]
	return seg, true, false
}
