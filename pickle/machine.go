package pickle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// A StackUnderflowError indicates that the stream requested a pop from an
// empty virtual stack or referenced a missing mark.
type StackUnderflowError struct {
	Offset int64
	Op     Opcode
}

func (e *StackUnderflowError) Error() string {
	return fmt.Sprintf("stack underflow in %v at offset %d", e.Op, e.Offset)
}

// A Kind tags a Value variant.
type Kind int

const (
	// KindUnknown marks a value the machine cannot model (persistent ids,
	// out-of-band buffers, missing memo entries).
	KindUnknown Kind = iota
	// KindLiteral marks a primitive or container literal.
	KindLiteral
	// KindMark marks the protocol's frame-boundary sentinel.
	KindMark
	// KindGlobal marks a reference to an importable module attribute.
	KindGlobal
	// KindConstructed marks an abstract call: callee applied to arguments.
	KindConstructed
	// KindMemoized marks a back-reference to a memo id that was never stored.
	KindMemoized
)

// A Value is one token on the virtual stack. Values never hold live objects;
// a Constructed value records that the stream would perform a call, not the
// call's result.
type Value struct {
	Kind    Kind
	Literal string // literal kind tag: "int", "str", "list", ...
	Str     string // bounded source text for string/number literals
	Module  string
	Name    string
	Callee  *Value
	Args    []*Value
	MemoID  int64
	Offset  int64
}

// Symbol returns the dotted module.name path of a global reference.
func (v *Value) Symbol() string {
	return v.Module + "." + v.Name
}

const renderDepth = 4

// String renders the value for use as finding evidence. Rendering is bounded
// in depth and width; a hostile stream cannot make it large.
func (v *Value) String() string {
	var b strings.Builder
	v.render(&b, renderDepth)
	return b.String()
}

func (v *Value) render(b *strings.Builder, depth int) {
	if v == nil {
		b.WriteString("?")
		return
	}
	if depth == 0 {
		b.WriteString("...")
		return
	}

	switch v.Kind {
	case KindLiteral:
		switch v.Literal {
		case "int", "float", "bool":
			b.WriteString(v.Str)
		case "str":
			b.WriteString(strconv.Quote(v.Str))
		case "bytes":
			b.WriteString("b")
			b.WriteString(strconv.Quote(v.Str))
		case "none":
			b.WriteString("None")
		case "tuple":
			b.WriteString("(")
			for i, arg := range v.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				arg.render(b, depth-1)
			}
			b.WriteString(")")
		default:
			b.WriteString(v.Literal)
		}
	case KindGlobal:
		b.WriteString(v.Symbol())
	case KindConstructed:
		v.Callee.render(b, depth-1)
		b.WriteString("(")
		for i, arg := range v.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			arg.render(b, depth-1)
		}
		b.WriteString(")")
	case KindMemoized:
		fmt.Fprintf(b, "memo[%d]", v.MemoID)
	case KindMark:
		b.WriteString("mark")
	default:
		b.WriteString("?")
	}
}

// A Graph is the capability summary of one stream: every importable symbol
// the stream would resolve and every call it would perform if deserialized.
// Nodes are recorded at the offset of the opcode that would perform the
// import or call, in stream order. A real unpickler resolves a GLOBAL and
// invokes a REDUCE the moment the opcode executes, whether or not the result
// survives on the stack, so the graph is collected at creation time rather
// than by reachability from the final stack.
type Graph struct {
	Protocol int
	Globals  []*Value
	Calls    []*Value
}

// Empty reports whether the stream references no external symbols and
// performs no calls.
func (g *Graph) Empty() bool {
	return len(g.Globals) == 0 && len(g.Calls) == 0
}

// Options configures stream processing bounds.
type Options struct {
	// MaxBytes caps total bytes consumed per stream. Zero selects
	// DefaultMaxBytes.
	MaxBytes int64
	// CheckEvery is the number of operations between context checks. Zero
	// selects a reasonable default.
	CheckEvery int
}

const defaultCheckEvery = 1024

// tupleChildren bounds how many tuple elements are retained for evidence.
const tupleChildren = 16

var markValue = &Value{Kind: KindMark}

type machine struct {
	stack []*Value
	memo  map[int64]*Value
	graph *Graph
}

// Build makes a single pass over buf, interpreting each opcode's abstract
// stack effect, and returns the stream's capability graph. No opcode is ever
// executed: reduce-style opcodes produce Constructed tokens instead of calls.
//
// The returned graph is always non-nil. A non-nil error reports why the pass
// stopped early; the partial graph built so far remains valid and should
// still be classified.
func Build(ctx context.Context, buf []byte, opts Options) (*Graph, error) {
	r := NewReader(buf, opts.MaxBytes)
	m := &machine{
		memo:  make(map[int64]*Value),
		graph: &Graph{},
	}

	checkEvery := opts.CheckEvery
	if checkEvery <= 0 {
		checkEvery = defaultCheckEvery
	}

	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				m.graph.Protocol = r.Protocol()
				return m.graph, err
			}
		}

		op, err := r.Next()
		if err != nil {
			m.graph.Protocol = r.Protocol()
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return m.graph, err
		}

		if op.Op == opSTOP {
			m.graph.Protocol = r.Protocol()
			return m.graph, nil
		}

		if err := m.exec(op); err != nil {
			m.graph.Protocol = r.Protocol()
			return m.graph, err
		}
	}
}

func (m *machine) push(v *Value) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop(op Operation) (*Value, error) {
	if len(m.stack) == 0 {
		return nil, &StackUnderflowError{Offset: op.Offset, Op: op.Op}
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) peek(op Operation) (*Value, error) {
	if len(m.stack) == 0 {
		return nil, &StackUnderflowError{Offset: op.Offset, Op: op.Op}
	}
	return m.stack[len(m.stack)-1], nil
}

// popMark pops and returns the values above the topmost mark, dropping the
// mark itself.
func (m *machine) popMark(op Operation) ([]*Value, error) {
	i := len(m.stack) - 1
	for ; i >= 0; i-- {
		if m.stack[i].Kind == KindMark {
			break
		}
	}
	if i < 0 {
		return nil, &StackUnderflowError{Offset: op.Offset, Op: op.Op}
	}
	items := append([]*Value(nil), m.stack[i+1:]...)
	m.stack = m.stack[:i]
	return items, nil
}

func (m *machine) literal(kind, text string, offset int64) *Value {
	return &Value{Kind: KindLiteral, Literal: kind, Str: text, Offset: offset}
}

func (m *machine) global(module, name string, offset int64) *Value {
	v := &Value{Kind: KindGlobal, Module: module, Name: name, Offset: offset}
	m.graph.Globals = append(m.graph.Globals, v)
	return v
}

func (m *machine) construct(callee *Value, args []*Value, offset int64) *Value {
	v := &Value{Kind: KindConstructed, Callee: callee, Args: args, Offset: offset}
	m.graph.Calls = append(m.graph.Calls, v)
	return v
}

// callArgs flattens a popped argument value into a call's argument list. A
// tuple literal contributes its retained elements; anything else is passed
// through as a single argument.
func callArgs(v *Value) []*Value {
	if v != nil && v.Kind == KindLiteral && v.Literal == "tuple" {
		return v.Args
	}
	return []*Value{v}
}

func (m *machine) exec(op Operation) error {
	switch op.Op {
	case opPROTO, opFRAME, opREADONLY_BUFFER:
		// no stack effect

	case opMARK:
		m.push(markValue)

	case opPOP:
		_, err := m.pop(op)
		return err

	case opPOP_MARK:
		_, err := m.popMark(op)
		return err

	case opDUP:
		v, err := m.peek(op)
		if err != nil {
			return err
		}
		m.push(v)

	case opNONE:
		m.push(m.literal("none", "", op.Offset))
	case opNEWTRUE:
		m.push(m.literal("bool", "True", op.Offset))
	case opNEWFALSE:
		m.push(m.literal("bool", "False", op.Offset))

	case opINT:
		// Protocol 0 spells booleans as INT 00 / INT 01.
		switch op.Str {
		case "00":
			m.push(m.literal("bool", "False", op.Offset))
		case "01":
			m.push(m.literal("bool", "True", op.Offset))
		default:
			m.push(m.literal("int", op.Str, op.Offset))
		}
	case opLONG:
		m.push(m.literal("int", op.Str, op.Offset))
	case opBININT, opBININT1, opBININT2:
		m.push(m.literal("int", strconv.FormatInt(op.Int, 10), op.Offset))
	case opLONG1, opLONG4:
		m.push(m.literal("int", "", op.Offset))
	case opFLOAT:
		m.push(m.literal("float", op.Str, op.Offset))
	case opBINFLOAT:
		m.push(m.literal("float", strconv.FormatFloat(op.Float, 'g', -1, 64), op.Offset))

	case opSTRING, opUNICODE:
		m.push(m.literal("str", strings.Trim(op.Str, "'\""), op.Offset))
	case opBINSTRING, opSHORT_BINSTRING, opBINUNICODE, opSHORT_BINUNICODE, opBINUNICODE8:
		m.push(m.literal("str", op.Str, op.Offset))
	case opBINBYTES, opSHORT_BINBYTES, opBINBYTES8, opBYTEARRAY8:
		m.push(m.literal("bytes", op.Str, op.Offset))

	case opEMPTY_LIST:
		m.push(m.literal("list", "", op.Offset))
	case opEMPTY_DICT:
		m.push(m.literal("dict", "", op.Offset))
	case opEMPTY_SET:
		m.push(m.literal("set", "", op.Offset))
	case opEMPTY_TUPLE:
		m.push(m.literal("tuple", "", op.Offset))

	case opLIST:
		if _, err := m.popMark(op); err != nil {
			return err
		}
		m.push(m.literal("list", "", op.Offset))
	case opDICT:
		if _, err := m.popMark(op); err != nil {
			return err
		}
		m.push(m.literal("dict", "", op.Offset))
	case opFROZENSET:
		if _, err := m.popMark(op); err != nil {
			return err
		}
		m.push(m.literal("set", "", op.Offset))

	case opTUPLE:
		items, err := m.popMark(op)
		if err != nil {
			return err
		}
		m.push(m.tuple(items, op.Offset))
	case opTUPLE1:
		a, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.tuple([]*Value{a}, op.Offset))
	case opTUPLE2:
		b, err := m.pop(op)
		if err != nil {
			return err
		}
		a, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.tuple([]*Value{a, b}, op.Offset))
	case opTUPLE3:
		c, err := m.pop(op)
		if err != nil {
			return err
		}
		b, err := m.pop(op)
		if err != nil {
			return err
		}
		a, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.tuple([]*Value{a, b, c}, op.Offset))

	case opAPPEND, opSETITEM:
		// Pop the appended values; the container stays below them on the
		// stack. Any global or constructed values absorbed here were already
		// recorded in the graph at creation.
		n := 1
		if op.Op == opSETITEM {
			n = 2
		}
		for i := 0; i < n; i++ {
			if _, err := m.pop(op); err != nil {
				return err
			}
		}
	case opAPPENDS, opSETITEMS, opADDITEMS:
		if _, err := m.popMark(op); err != nil {
			return err
		}

	case opGLOBAL:
		m.push(m.global(op.Module, op.Name, op.Offset))
	case opSTACK_GLOBAL:
		name, err := m.pop(op)
		if err != nil {
			return err
		}
		module, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.global(stringOf(module), stringOf(name), op.Offset))

	case opREDUCE, opNEWOBJ:
		args, err := m.pop(op)
		if err != nil {
			return err
		}
		callee, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.construct(callee, callArgs(args), op.Offset))
	case opNEWOBJ_EX:
		kwargs, err := m.pop(op)
		if err != nil {
			return err
		}
		args, err := m.pop(op)
		if err != nil {
			return err
		}
		callee, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.construct(callee, append(callArgs(args), kwargs), op.Offset))
	case opINST:
		args, err := m.popMark(op)
		if err != nil {
			return err
		}
		callee := m.global(op.Module, op.Name, op.Offset)
		m.push(m.construct(callee, args, op.Offset))
	case opOBJ:
		items, err := m.popMark(op)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return &StackUnderflowError{Offset: op.Offset, Op: op.Op}
		}
		m.push(m.construct(items[0], items[1:], op.Offset))
	case opBUILD:
		state, err := m.pop(op)
		if err != nil {
			return err
		}
		obj, err := m.pop(op)
		if err != nil {
			return err
		}
		m.push(m.construct(obj, []*Value{state}, op.Offset))

	case opEXT1, opEXT2, opEXT4:
		// Extension-registry lookups resolve copyreg codes to callables.
		callee := m.global("copyreg", "_extension_registry", op.Offset)
		code := m.literal("int", strconv.FormatInt(op.Int, 10), op.Offset)
		m.push(m.construct(callee, []*Value{code}, op.Offset))

	case opPERSID:
		m.push(&Value{Kind: KindUnknown, Offset: op.Offset})
	case opBINPERSID:
		if _, err := m.pop(op); err != nil {
			return err
		}
		m.push(&Value{Kind: KindUnknown, Offset: op.Offset})
	case opNEXT_BUFFER:
		m.push(&Value{Kind: KindUnknown, Offset: op.Offset})

	case opPUT, opBINPUT, opLONG_BINPUT:
		v, err := m.peek(op)
		if err != nil {
			return err
		}
		m.memo[op.Int] = v
	case opMEMOIZE:
		v, err := m.peek(op)
		if err != nil {
			return err
		}
		// The implicit id is the memo's current size, counting explicit PUT
		// entries too; this is how a real unpickler assigns it, so streams
		// mixing PUT and MEMOIZE keep their ids aligned.
		m.memo[int64(len(m.memo))] = v
	case opGET, opBINGET, opLONG_BINGET:
		if v, ok := m.memo[op.Int]; ok {
			m.push(v)
		} else {
			m.push(&Value{Kind: KindMemoized, MemoID: op.Int, Offset: op.Offset})
		}

	default:
		// Decoded but not modeled: treat the result as opaque.
		m.push(&Value{Kind: KindUnknown, Offset: op.Offset})
	}

	return nil
}

func (m *machine) tuple(items []*Value, offset int64) *Value {
	if len(items) > tupleChildren {
		items = append(items[:tupleChildren:tupleChildren], &Value{Kind: KindUnknown, Offset: offset})
	}
	return &Value{Kind: KindLiteral, Literal: "tuple", Args: items, Offset: offset}
}

func stringOf(v *Value) string {
	if v != nil && v.Kind == KindLiteral && v.Literal == "str" {
		return v.Str
	}
	return "?"
}
