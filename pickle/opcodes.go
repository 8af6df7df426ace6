package pickle

import "fmt"

// An Opcode identifies a single pickle-protocol instruction.
type Opcode byte

// Note that the opcodes below cover protocols 0 through 5. The scanner decodes
// all of them; it executes none of them.

const (
	opMARK            Opcode = '(' // push special markobject on stack
	opSTOP            Opcode = '.' // every pickle ends with STOP
	opPOP             Opcode = '0' // discard topmost stack item
	opPOP_MARK        Opcode = '1' // discard stack top through topmost markobject
	opDUP             Opcode = '2' // duplicate top stack item
	opFLOAT           Opcode = 'F' // push float object; decimal string argument
	opINT             Opcode = 'I' // push integer or bool; decimal string argument
	opBININT          Opcode = 'J' // push four-byte signed int
	opBININT1         Opcode = 'K' // push 1-byte unsigned int
	opLONG            Opcode = 'L' // push long; decimal string argument
	opBININT2         Opcode = 'M' // push 2-byte unsigned int
	opNONE            Opcode = 'N' // push None
	opPERSID          Opcode = 'P' // push persistent object; id is taken from string arg
	opBINPERSID       Opcode = 'Q' //  "       "         "  ;  "  "   "     "  stack
	opREDUCE          Opcode = 'R' // apply callable to argtuple, both on stack
	opSTRING          Opcode = 'S' // push string; NL-terminated string argument
	opBINSTRING       Opcode = 'T' // push string; counted binary string argument
	opSHORT_BINSTRING Opcode = 'U' //  "     "   ;    "      "       "      " < 256 bytes
	opUNICODE         Opcode = 'V' // push Unicode string; raw-unicode-escaped'd argument
	opBINUNICODE      Opcode = 'X' //   "     "       "  ; counted UTF-8 string argument
	opAPPEND          Opcode = 'a' // append stack top to list below it
	opBUILD           Opcode = 'b' // call __setstate__ or __dict__.update()
	opGLOBAL          Opcode = 'c' // push self.find_class(modname, name); 2 string args
	opDICT            Opcode = 'd' // build a dict from stack items
	opEMPTY_DICT      Opcode = '}' // push empty dict
	opAPPENDS         Opcode = 'e' // extend list on stack by topmost stack slice
	opGET             Opcode = 'g' // push item from memo on stack; index is string arg
	opBINGET          Opcode = 'h' //   "    "    "    "   "   "  ;   "    " 1-byte arg
	opINST            Opcode = 'i' // build & push class instance
	opLONG_BINGET     Opcode = 'j' // push item from memo on stack; index is 4-byte arg
	opLIST            Opcode = 'l' // build list from topmost stack items
	opEMPTY_LIST      Opcode = ']' // push empty list
	opOBJ             Opcode = 'o' // build & push class instance
	opPUT             Opcode = 'p' // store stack top in memo; index is string arg
	opBINPUT          Opcode = 'q' //   "     "    "   "   " ;   "    " 1-byte arg
	opLONG_BINPUT     Opcode = 'r' //   "     "    "   "   " ;   "    " 4-byte arg
	opSETITEM         Opcode = 's' // add key+value pair to dict
	opTUPLE           Opcode = 't' // build tuple from topmost stack items
	opEMPTY_TUPLE     Opcode = ')' // push empty tuple
	opSETITEMS        Opcode = 'u' // modify dict by adding topmost key+value pairs
	opBINFLOAT        Opcode = 'G' // push float; arg is 8-byte float encoding

	// Protocol 2

	opPROTO    Opcode = '\x80' // identify pickle protocol
	opNEWOBJ   Opcode = '\x81' // build object by applying cls.__new__ to argtuple
	opEXT1     Opcode = '\x82' // push object from extension registry; 1-byte index
	opEXT2     Opcode = '\x83' // ditto, but 2-byte index
	opEXT4     Opcode = '\x84' // ditto, but 4-byte index
	opTUPLE1   Opcode = '\x85' // build 1-tuple from stack top
	opTUPLE2   Opcode = '\x86' // build 2-tuple from two topmost stack items
	opTUPLE3   Opcode = '\x87' // build 3-tuple from three topmost stack items
	opNEWTRUE  Opcode = '\x88' // push True
	opNEWFALSE Opcode = '\x89' // push False
	opLONG1    Opcode = '\x8a' // push long from < 256 bytes
	opLONG4    Opcode = '\x8b' // push really big long

	// Protocol 3 (Python 3.x)

	opBINBYTES       Opcode = 'B' // push bytes; counted binary string argument
	opSHORT_BINBYTES Opcode = 'C' //  "     "   ;    "      "       "      " < 256 bytes

	// Protocol 4

	opSHORT_BINUNICODE Opcode = '\x8c' // push short string; UTF-8 length < 256 bytes
	opBINUNICODE8      Opcode = '\x8d' // push very long string
	opBINBYTES8        Opcode = '\x8e' // push very long bytes string
	opEMPTY_SET        Opcode = '\x8f' // push empty set on the stack
	opADDITEMS         Opcode = '\x90' // modify set by adding topmost stack items
	opFROZENSET        Opcode = '\x91' // build frozenset from topmost stack items
	opNEWOBJ_EX        Opcode = '\x92' // like NEWOBJ but work with keyword only arguments
	opSTACK_GLOBAL     Opcode = '\x93' // same as GLOBAL but using names on the stacks
	opMEMOIZE          Opcode = '\x94' // store top of the stack in memo
	opFRAME            Opcode = '\x95' // indicate the beginning of a new frame

	// Protocol 5

	opBYTEARRAY8      Opcode = '\x96' // push bytearray
	opNEXT_BUFFER     Opcode = '\x97' // push next out-of-band buffer
	opREADONLY_BUFFER Opcode = '\x98' // make top of stack readonly
)

// argKind describes how an opcode's inline argument is encoded.
type argKind int

const (
	argNone      argKind = iota
	argUint1             // one unsigned byte
	argUint2             // two bytes, little-endian
	argInt4              // four bytes, little-endian, signed
	argUint4             // four bytes, little-endian
	argUint8             // eight bytes, little-endian
	argFloat8            // eight bytes, big-endian IEEE 754
	argDecimalNL         // newline-terminated decimal string
	argStringNL          // newline-terminated string
	argPairNL            // two newline-terminated strings (module, name)
	argBytes1            // counted payload, 1-byte length prefix
	argBytes4            // counted payload, 4-byte length prefix
	argBytes8            // counted payload, 8-byte length prefix
)

type opInfo struct {
	name string
	arg  argKind
}

// opcodeTable covers every opcode regardless of the protocol revision that
// introduced it: a real unpickler dispatches on the byte alone and never
// checks the opcode against the declared protocol, so rejecting, say, a
// protocol-4 opcode after a PROTO 2 marker would blind the scanner to streams
// a real load would happily run.
var opcodeTable = [256]opInfo{
	opMARK:            {"MARK", argNone},
	opSTOP:            {"STOP", argNone},
	opPOP:             {"POP", argNone},
	opPOP_MARK:        {"POP_MARK", argNone},
	opDUP:             {"DUP", argNone},
	opFLOAT:           {"FLOAT", argDecimalNL},
	opINT:             {"INT", argDecimalNL},
	opBININT:          {"BININT", argInt4},
	opBININT1:         {"BININT1", argUint1},
	opLONG:            {"LONG", argDecimalNL},
	opBININT2:         {"BININT2", argUint2},
	opNONE:            {"NONE", argNone},
	opPERSID:          {"PERSID", argStringNL},
	opBINPERSID:       {"BINPERSID", argNone},
	opREDUCE:          {"REDUCE", argNone},
	opSTRING:          {"STRING", argStringNL},
	opBINSTRING:       {"BINSTRING", argBytes4},
	opSHORT_BINSTRING: {"SHORT_BINSTRING", argBytes1},
	opUNICODE:         {"UNICODE", argStringNL},
	opBINUNICODE:      {"BINUNICODE", argBytes4},
	opAPPEND:          {"APPEND", argNone},
	opBUILD:           {"BUILD", argNone},
	opGLOBAL:          {"GLOBAL", argPairNL},
	opDICT:            {"DICT", argNone},
	opEMPTY_DICT:      {"EMPTY_DICT", argNone},
	opAPPENDS:         {"APPENDS", argNone},
	opGET:             {"GET", argDecimalNL},
	opBINGET:          {"BINGET", argUint1},
	opINST:            {"INST", argPairNL},
	opLONG_BINGET:     {"LONG_BINGET", argUint4},
	opLIST:            {"LIST", argNone},
	opEMPTY_LIST:      {"EMPTY_LIST", argNone},
	opOBJ:             {"OBJ", argNone},
	opPUT:             {"PUT", argDecimalNL},
	opBINPUT:          {"BINPUT", argUint1},
	opLONG_BINPUT:     {"LONG_BINPUT", argUint4},
	opSETITEM:         {"SETITEM", argNone},
	opTUPLE:           {"TUPLE", argNone},
	opEMPTY_TUPLE:     {"EMPTY_TUPLE", argNone},
	opSETITEMS:        {"SETITEMS", argNone},
	opBINFLOAT:        {"BINFLOAT", argFloat8},

	opPROTO:    {"PROTO", argUint1},
	opNEWOBJ:   {"NEWOBJ", argNone},
	opEXT1:     {"EXT1", argUint1},
	opEXT2:     {"EXT2", argUint2},
	opEXT4:     {"EXT4", argUint4},
	opTUPLE1:   {"TUPLE1", argNone},
	opTUPLE2:   {"TUPLE2", argNone},
	opTUPLE3:   {"TUPLE3", argNone},
	opNEWTRUE:  {"NEWTRUE", argNone},
	opNEWFALSE: {"NEWFALSE", argNone},
	opLONG1:    {"LONG1", argBytes1},
	opLONG4:    {"LONG4", argBytes4},

	opBINBYTES:       {"BINBYTES", argBytes4},
	opSHORT_BINBYTES: {"SHORT_BINBYTES", argBytes1},

	opSHORT_BINUNICODE: {"SHORT_BINUNICODE", argBytes1},
	opBINUNICODE8:      {"BINUNICODE8", argBytes8},
	opBINBYTES8:        {"BINBYTES8", argBytes8},
	opEMPTY_SET:        {"EMPTY_SET", argNone},
	opADDITEMS:         {"ADDITEMS", argNone},
	opFROZENSET:        {"FROZENSET", argNone},
	opNEWOBJ_EX:        {"NEWOBJ_EX", argNone},
	opSTACK_GLOBAL:     {"STACK_GLOBAL", argNone},
	opMEMOIZE:          {"MEMOIZE", argNone},
	opFRAME:            {"FRAME", argUint8},

	opBYTEARRAY8:      {"BYTEARRAY8", argBytes8},
	opNEXT_BUFFER:     {"NEXT_BUFFER", argNone},
	opREADONLY_BUFFER: {"READONLY_BUFFER", argNone},
}

// String returns the opcode's symbolic name, or a hex rendering for bytes that
// are not part of the protocol.
func (op Opcode) String() string {
	if info := &opcodeTable[op]; info.name != "" {
		return info.name
	}
	return fmt.Sprintf("0x%02x", byte(op))
}

// HighestProtocol is the most recent pickle protocol the reader understands.
const HighestProtocol = 5
