package pickle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, stream []byte) (*Graph, error) {
	t.Helper()
	return Build(context.Background(), stream, Options{})
}

func TestLiteralOnlyStreamsHaveEmptyGraphs(t *testing.T) {
	cases := map[string][]byte{
		"int":    new(Writer).Proto(2).Int(42).Stop().Stream(),
		"none":   new(Writer).Proto(2).None().Stop().Stream(),
		"bool":   new(Writer).Proto(2).Bool(true).Stop().Stream(),
		"string": new(Writer).Proto(4).Unicode("hello, world").Stop().Stream(),
		"bytes":  new(Writer).Proto(4).Bytes([]byte{0, 1, 2}).Stop().Stream(),
		"tuple":  new(Writer).Proto(2).Int(1).Int(2).Tuple2().Stop().Stream(),
		"list": new(Writer).Proto(2).EmptyList().Mark().
			Int(1).Int(2).Int(3).Appends().Stop().Stream(),
		"dict": new(Writer).Proto(2).EmptyDict().Mark().
			Unicode("k").Int(1).SetItems().Stop().Stream(),
		"memoized": new(Writer).Proto(4).Unicode("x").Memoize().
			Get(0).Tuple2().Stop().Stream(),
	}

	for name, stream := range cases {
		t.Run(name, func(t *testing.T) {
			graph, err := build(t, stream)
			require.NoError(t, err)
			assert.True(t, graph.Empty())
		})
	}
}

func TestGlobalReferencesAreRecorded(t *testing.T) {
	stream := new(Writer).Proto(2).Global("os", "system").Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "os.system", graph.Globals[0].Symbol())
	assert.Empty(t, graph.Calls)
}

func TestStackGlobal(t *testing.T) {
	stream := new(Writer).Proto(4).StackGlobal("builtins", "eval").Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "builtins.eval", graph.Globals[0].Symbol())
}

func TestReduceProducesConstructedCall(t *testing.T) {
	stream := new(Writer).Proto(2).
		Global("os", "system").
		Unicode("rm -rf /").Tuple1().
		Reduce().Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Calls, 1)

	call := graph.Calls[0]
	require.NotNil(t, call.Callee)
	assert.Equal(t, KindGlobal, call.Callee.Kind)
	assert.Equal(t, "os.system", call.Callee.Symbol())
	require.Len(t, call.Args, 1)
	assert.Equal(t, `os.system("rm -rf /")`, call.String())
}

func TestPoppedGlobalStaysInGraph(t *testing.T) {
	// A real unpickler resolves the import when GLOBAL executes; discarding
	// the result afterwards does not undo it.
	stream := new(Writer).Proto(2).
		Global("posix", "system").Pop().
		Int(1).Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "posix.system", graph.Globals[0].Symbol())
}

func TestGlobalBuriedInContainerStaysInGraph(t *testing.T) {
	stream := new(Writer).Proto(2).
		EmptyList().Mark().
		Global("builtins", "eval").
		Appends().Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "builtins.eval", graph.Globals[0].Symbol())
}

func TestMemoBackReferences(t *testing.T) {
	stream := new(Writer).Proto(4).
		StackGlobal("os", "system").Memoize().Pop().
		Get(0).
		Unicode("id").Tuple1().
		Reduce().Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	require.Len(t, graph.Calls, 1)
	assert.Equal(t, "os.system", graph.Calls[0].Callee.Symbol())
}

func TestMemoizeCountsExplicitPuts(t *testing.T) {
	// MEMOIZE ids continue from the memo's size, so explicit PUT entries
	// shift them exactly as they do in a real unpickler.
	stream := new(Writer).Proto(4).
		Unicode("os").Put(0).
		Unicode("system").Memoize(). // id 1, not 0
		Get(0).Get(1).
		op(opSTACK_GLOBAL).
		Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "os.system", graph.Globals[0].Symbol())
}

func TestLaterProtocolOpcodesAfterEarlierMarker(t *testing.T) {
	// A real unpickler dispatches on the opcode byte alone; declaring
	// protocol 2 does not stop protocol-4 opcodes from executing, so the
	// reader must not reject them either.
	stream := new(Writer).Proto(2).
		StackGlobal("os", "system").Memoize().
		Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "os.system", graph.Globals[0].Symbol())
}

func TestMissingMemoEntryIsTolerated(t *testing.T) {
	stream := new(Writer).Proto(2).Get(7).Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	assert.True(t, graph.Empty())
}

func TestTruncationAtEveryOffsetTerminates(t *testing.T) {
	stream := new(Writer).Proto(2).
		Global("os", "system").Memoize().
		Unicode("rm -rf /").Tuple1().
		Reduce().
		EmptyDict().Mark().Unicode("cmd").Get(0).SetItems().
		Stop().Stream()

	for i := 0; i < len(stream)-1; i++ {
		_, err := build(t, stream[:i])
		assert.Errorf(t, err, "offset %d", i)
	}

	_, err := build(t, stream)
	assert.NoError(t, err)
}

func TestTruncatedCountedPayload(t *testing.T) {
	// SHORT_BINUNICODE declares 200 bytes but the buffer ends first.
	stream := append(new(Writer).Proto(4).Stream(), byte(opSHORT_BINUNICODE), 200, 'x')

	_, err := build(t, stream)
	var truncated *TruncatedError
	require.ErrorAs(t, err, &truncated)
}

func TestDeclaredSizeBeyondCap(t *testing.T) {
	stream := new(Writer).Proto(4).
		Unicode("0123456789abcdef").Stop().Stream()

	graph, err := Build(context.Background(), stream, Options{MaxBytes: 8})
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.True(t, graph.Empty())
}

func TestUnknownOpcode(t *testing.T) {
	stream := []byte{0xff, '.'}

	_, err := build(t, stream)
	var unknown *UnknownOpcodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, byte(0xff), unknown.Byte)
	assert.Equal(t, int64(0), unknown.Offset)
}

func TestProtocolMarkerAfterStart(t *testing.T) {
	stream := new(Writer).Proto(2).Int(1).Proto(2).Stop().Stream()

	_, err := build(t, stream)
	var mismatch *ProtocolMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	stream := new(Writer).Proto(99).Stop().Stream()

	_, err := build(t, stream)
	var mismatch *ProtocolMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 99, mismatch.Version)
}

func TestStackUnderflowKeepsPartialGraph(t *testing.T) {
	stream := new(Writer).Proto(2).
		Global("os", "system").Pop().
		Reduce(). // nothing left to pop
		Stop().Stream()

	graph, err := build(t, stream)
	var underflow *StackUnderflowError
	require.ErrorAs(t, err, &underflow)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "os.system", graph.Globals[0].Symbol())
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := new(Writer).Proto(2).Int(1).Stop().Stream()
	_, err := Build(ctx, stream, Options{CheckEvery: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContextDeadline(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	stream := new(Writer).Proto(2).Int(1).Stop().Stream()
	_, err := Build(ctx, stream, Options{CheckEvery: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReaderSingleForwardPass(t *testing.T) {
	stream := new(Writer).Proto(2).Int(7).Stop().Stream()
	r := NewReader(stream, 0)

	var ops []Opcode
	for {
		op, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ops = append(ops, op.Op)
	}
	assert.Equal(t, []Opcode{opPROTO, opBININT, opSTOP}, ops)
	assert.Equal(t, 2, r.Protocol())
	assert.Equal(t, int64(len(stream)), r.Offset())
}

func TestProtocolZeroStream(t *testing.T) {
	// Hand-written protocol 0: (S'os'\nS'system'\nc...)
	stream := []byte("cos\nsystem\n(S'ls'\ntR.")

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Globals, 1)
	assert.Equal(t, "os.system", graph.Globals[0].Symbol())
	require.Len(t, graph.Calls, 1)
	assert.Equal(t, `os.system("ls")`, graph.Calls[0].String())
}

func TestEvidenceRenderingIsBounded(t *testing.T) {
	// Deeply nested constructions render with a depth cutoff.
	w := new(Writer).Proto(2).Global("collections", "OrderedDict")
	for i := 0; i < 32; i++ {
		w.EmptyTuple().Reduce()
	}
	stream := w.Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.NotEmpty(t, graph.Calls)

	last := graph.Calls[len(graph.Calls)-1]
	assert.LessOrEqual(t, len(last.String()), 256)
}

func TestBuildOpcodeModeledAsCall(t *testing.T) {
	stream := new(Writer).Proto(2).
		Global("torch.nn", "Module").EmptyTuple().Reduce().
		EmptyDict().Build().
		Stop().Stream()

	graph, err := build(t, stream)
	require.NoError(t, err)
	require.Len(t, graph.Calls, 2)
	assert.Equal(t, KindConstructed, graph.Calls[1].Callee.Kind)
}
