package pickle

import "bytes"

// A Writer builds pickle streams opcode by opcode. The scanner never encodes
// pickles in production; the Writer exists so tests and fixtures can craft
// streams, including malformed ones, without a Python toolchain.
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) op(op Opcode) *Writer {
	w.buf.WriteByte(byte(op))
	return w
}

// Raw appends arbitrary bytes, for crafting corrupt or truncated streams.
func (w *Writer) Raw(b ...byte) *Writer {
	w.buf.Write(b)
	return w
}

// Proto emits a protocol marker.
func (w *Writer) Proto(v byte) *Writer {
	w.op(opPROTO)
	w.buf.WriteByte(v)
	return w
}

// Frame emits a FRAME opcode with the given declared length.
func (w *Writer) Frame(n uint64) *Writer {
	w.op(opFRAME)
	w.uint64(n)
	return w
}

// Global emits a protocol-0 GLOBAL reference.
func (w *Writer) Global(module, name string) *Writer {
	w.op(opGLOBAL)
	w.buf.WriteString(module)
	w.buf.WriteByte('\n')
	w.buf.WriteString(name)
	w.buf.WriteByte('\n')
	return w
}

// StackGlobal emits the module and name as short strings followed by
// STACK_GLOBAL.
func (w *Writer) StackGlobal(module, name string) *Writer {
	return w.Unicode(module).Unicode(name).op(opSTACK_GLOBAL)
}

// Unicode emits a string using the shortest counted encoding.
func (w *Writer) Unicode(s string) *Writer {
	if len(s) < 256 {
		w.op(opSHORT_BINUNICODE)
		w.buf.WriteByte(byte(len(s)))
	} else {
		w.op(opBINUNICODE)
		w.uint32(uint32(len(s)))
	}
	w.buf.WriteString(s)
	return w
}

// Bytes emits a counted bytes payload.
func (w *Writer) Bytes(b []byte) *Writer {
	if len(b) < 256 {
		w.op(opSHORT_BINBYTES)
		w.buf.WriteByte(byte(len(b)))
	} else {
		w.op(opBINBYTES)
		w.uint32(uint32(len(b)))
	}
	w.buf.Write(b)
	return w
}

// Int emits a four-byte signed integer.
func (w *Writer) Int(i int32) *Writer {
	w.op(opBININT)
	w.uint32(uint32(i))
	return w
}

// None emits the None literal.
func (w *Writer) None() *Writer { return w.op(opNONE) }

// Bool emits a protocol-2 boolean.
func (w *Writer) Bool(b bool) *Writer {
	if b {
		return w.op(opNEWTRUE)
	}
	return w.op(opNEWFALSE)
}

// Mark emits a mark sentinel.
func (w *Writer) Mark() *Writer { return w.op(opMARK) }

// EmptyTuple, Tuple1, Tuple2 and Tuple emit tuple constructions.
func (w *Writer) EmptyTuple() *Writer { return w.op(opEMPTY_TUPLE) }
func (w *Writer) Tuple1() *Writer     { return w.op(opTUPLE1) }
func (w *Writer) Tuple2() *Writer     { return w.op(opTUPLE2) }
func (w *Writer) Tuple() *Writer      { return w.op(opTUPLE) }

// EmptyList and EmptyDict emit empty containers; Appends and SetItems fold
// marked items into them.
func (w *Writer) EmptyList() *Writer { return w.op(opEMPTY_LIST) }
func (w *Writer) EmptyDict() *Writer { return w.op(opEMPTY_DICT) }
func (w *Writer) Appends() *Writer   { return w.op(opAPPENDS) }
func (w *Writer) SetItems() *Writer  { return w.op(opSETITEMS) }

// Reduce emits a REDUCE call of the callable below the argument tuple.
func (w *Writer) Reduce() *Writer { return w.op(opREDUCE) }

// Build emits a BUILD state application.
func (w *Writer) Build() *Writer { return w.op(opBUILD) }

// Pop discards the top of the stack.
func (w *Writer) Pop() *Writer { return w.op(opPOP) }

// Memoize stores the top of the stack under the next memo id.
func (w *Writer) Memoize() *Writer { return w.op(opMEMOIZE) }

// Put stores the top of the stack under an explicit memo id.
func (w *Writer) Put(id byte) *Writer {
	w.op(opBINPUT)
	w.buf.WriteByte(id)
	return w
}

// Get pushes the memo entry with the given id.
func (w *Writer) Get(id byte) *Writer {
	w.op(opBINGET)
	w.buf.WriteByte(id)
	return w
}

// Stop terminates the stream.
func (w *Writer) Stop() *Writer { return w.op(opSTOP) }

// Stream returns the accumulated bytes.
func (w *Writer) Stream() []byte {
	return w.buf.Bytes()
}

func (w *Writer) uint32(v uint32) {
	w.buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (w *Writer) uint64(v uint64) {
	w.buf.Write([]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	})
}
