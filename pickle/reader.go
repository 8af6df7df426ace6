package pickle

import (
	"fmt"
	"io"
	"math"
	"strconv"
)

// DefaultMaxBytes bounds the number of bytes a single stream may consume.
const DefaultMaxBytes = 1 << 30

// snippetLen bounds how much of a string or bytes argument is retained for
// evidence. The reader advances past the full declared length but never holds
// more than this many bytes of it.
const snippetLen = 256

// maxLineLen bounds newline-terminated arguments from protocol-0 opcodes.
const maxLineLen = 1 << 16

// A TruncatedError indicates that an argument's declared length ran past the
// end of the stream.
type TruncatedError struct {
	Offset int64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated stream at offset %d", e.Offset)
}

// An UnknownOpcodeError indicates a byte that does not name any instruction in
// the declared protocol.
type UnknownOpcodeError struct {
	Offset int64
	Byte   byte
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode 0x%02x at offset %d", e.Byte, e.Offset)
}

// A ProtocolMismatchError indicates a protocol marker in an illegal position
// or an unsupported protocol version.
type ProtocolMismatchError struct {
	Offset  int64
	Version int
}

func (e *ProtocolMismatchError) Error() string {
	if e.Version > HighestProtocol {
		return fmt.Sprintf("unsupported pickle protocol %d at offset %d", e.Version, e.Offset)
	}
	return fmt.Sprintf("protocol marker after stream start at offset %d", e.Offset)
}

// A TooLargeError indicates that the stream's declared sizes exceed the
// configured consumption cap.
type TooLargeError struct {
	Offset int64
	Limit  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("stream exceeds %d-byte cap at offset %d", e.Limit, e.Offset)
}

// An Operation is one decoded instruction: the opcode, its byte offset, and
// its decoded inline argument, if any. Operations are immutable once produced.
type Operation struct {
	Op     Opcode
	Offset int64

	// Decoded argument. Which fields are meaningful depends on the opcode's
	// argument encoding; at most one representation is populated.
	Int          int64
	Float        float64
	Str          string // bounded to snippetLen for counted payloads
	Module, Name string // GLOBAL and INST carry two newline-terminated strings

	// ArgLen is the full declared length of a counted payload, which may
	// exceed len(Str).
	ArgLen int64
}

// A Reader decodes a pickle stream into a sequence of Operations. It makes a
// single forward pass; it is not restartable.
type Reader struct {
	buf      []byte
	off      int64
	limit    int64
	protocol int
	started  bool
	done     bool
}

// NewReader returns a Reader over buf. maxBytes caps total consumption; zero
// or negative selects DefaultMaxBytes.
func NewReader(buf []byte, maxBytes int64) *Reader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	limit := int64(len(buf))
	if maxBytes < limit {
		limit = maxBytes
	}
	return &Reader{buf: buf, limit: limit}
}

// Protocol reports the protocol version declared by a leading PROTO marker, or
// zero if the stream did not declare one.
func (r *Reader) Protocol() int { return r.protocol }

// Offset reports the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.off }

func (r *Reader) truncated() (Operation, error) {
	// Distinguish "ran off the real buffer" from "ran into the byte cap".
	if r.limit < int64(len(r.buf)) {
		return Operation{}, &TooLargeError{Offset: r.off, Limit: r.limit}
	}
	return Operation{}, &TruncatedError{Offset: r.off}
}

func (r *Reader) take(n int64) ([]byte, bool) {
	if n < 0 || r.off+n > r.limit {
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *Reader) takeLine() (string, bool) {
	end := r.off
	for ; end < r.limit && end-r.off < maxLineLen; end++ {
		if r.buf[end] == '\n' {
			line := string(r.buf[r.off:end])
			r.off = end + 1
			return line, true
		}
	}
	return "", false
}

// Next decodes and returns the next Operation. It returns io.EOF after the
// stream's STOP opcode has been returned.
func (r *Reader) Next() (Operation, error) {
	if r.done {
		return Operation{}, io.EOF
	}

	start := r.off
	b, ok := r.take(1)
	if !ok {
		return r.truncated()
	}

	op := Opcode(b[0])
	info := &opcodeTable[op]
	if info.name == "" {
		return Operation{}, &UnknownOpcodeError{Offset: start, Byte: b[0]}
	}

	if op == opPROTO {
		if r.started {
			return Operation{}, &ProtocolMismatchError{Offset: start}
		}
	}
	r.started = true

	out := Operation{Op: op, Offset: start}

	switch info.arg {
	case argNone:
		// nothing to decode

	case argUint1:
		a, ok := r.take(1)
		if !ok {
			return r.truncated()
		}
		out.Int = int64(a[0])

	case argUint2:
		a, ok := r.take(2)
		if !ok {
			return r.truncated()
		}
		out.Int = int64(a[0]) | int64(a[1])<<8

	case argInt4:
		a, ok := r.take(4)
		if !ok {
			return r.truncated()
		}
		out.Int = int64(int32(uint32(a[0]) | uint32(a[1])<<8 | uint32(a[2])<<16 | uint32(a[3])<<24))

	case argUint4:
		a, ok := r.take(4)
		if !ok {
			return r.truncated()
		}
		out.Int = int64(uint32(a[0]) | uint32(a[1])<<8 | uint32(a[2])<<16 | uint32(a[3])<<24)

	case argUint8:
		a, ok := r.take(8)
		if !ok {
			return r.truncated()
		}
		v := uint64(a[0]) | uint64(a[1])<<8 | uint64(a[2])<<16 | uint64(a[3])<<24 |
			uint64(a[4])<<32 | uint64(a[5])<<40 | uint64(a[6])<<48 | uint64(a[7])<<56
		out.Int = int64(v)

	case argFloat8:
		a, ok := r.take(8)
		if !ok {
			return r.truncated()
		}
		bits := uint64(a[7]) | uint64(a[6])<<8 | uint64(a[5])<<16 | uint64(a[4])<<24 |
			uint64(a[3])<<32 | uint64(a[2])<<40 | uint64(a[1])<<48 | uint64(a[0])<<56
		out.Float = math.Float64frombits(bits)

	case argDecimalNL:
		line, ok := r.takeLine()
		if !ok {
			return r.truncated()
		}
		out.Str = line
		// INT may carry protocol-0 bool spellings; LONG may carry a trailing L.
		trimmed := line
		if n := len(trimmed); n > 0 && (trimmed[n-1] == 'L' || trimmed[n-1] == 'l') {
			trimmed = trimmed[:n-1]
		}
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			out.Int = i
		}

	case argStringNL:
		line, ok := r.takeLine()
		if !ok {
			return r.truncated()
		}
		out.Str = line

	case argPairNL:
		module, ok := r.takeLine()
		if !ok {
			return r.truncated()
		}
		name, ok := r.takeLine()
		if !ok {
			return r.truncated()
		}
		out.Module, out.Name = module, name

	case argBytes1, argBytes4, argBytes8:
		var n int64
		switch info.arg {
		case argBytes1:
			a, ok := r.take(1)
			if !ok {
				return r.truncated()
			}
			n = int64(a[0])
		case argBytes4:
			a, ok := r.take(4)
			if !ok {
				return r.truncated()
			}
			n = int64(uint32(a[0]) | uint32(a[1])<<8 | uint32(a[2])<<16 | uint32(a[3])<<24)
		case argBytes8:
			a, ok := r.take(8)
			if !ok {
				return r.truncated()
			}
			v := uint64(a[0]) | uint64(a[1])<<8 | uint64(a[2])<<16 | uint64(a[3])<<24 |
				uint64(a[4])<<32 | uint64(a[5])<<40 | uint64(a[6])<<48 | uint64(a[7])<<56
			if v > uint64(r.limit) {
				return Operation{}, &TooLargeError{Offset: start, Limit: r.limit}
			}
			n = int64(v)
		}

		payload, ok := r.take(n)
		if !ok {
			return r.truncated()
		}
		out.ArgLen = n
		if n > snippetLen {
			payload = payload[:snippetLen]
		}
		out.Str = string(payload)
	}

	switch op {
	case opPROTO:
		if out.Int > HighestProtocol {
			return Operation{}, &ProtocolMismatchError{Offset: start, Version: int(out.Int)}
		}
		r.protocol = int(out.Int)
	case opSTOP:
		r.done = true
	}

	return out, nil
}
