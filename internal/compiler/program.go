package compiler

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/tiered/internal/shape"
)

// Opcode is a single typed VM instruction.
type Opcode uint8

const (
	OpConst Opcode = iota // push Consts[A]
	OpParam               // push argument A

	// Scalar arithmetic
	OpAddI
	OpSubI
	OpMulI
	OpDivI
	OpRemI
	OpNegI
	OpAddF
	OpSubF
	OpMulF
	OpDivF
	OpNegF
	OpConcat

	// Comparison; A holds the comparison (cmpEq ... cmpGe)
	OpCmpI
	OpCmpF
	OpCmpS
	OpCmpB
	OpNot

	// Conversions of the top of stack
	OpI2F
	OpF2I
	OpIV2FV

	// Elementwise vector arithmetic; A holds the operator (arithAdd ...),
	// B the operand layout (vecVV, vecVS, vecSV)
	OpVecI
	OpVecF
	OpNegIV
	OpNegFV

	// Control flow; A is the jump target
	OpJump
	OpJumpIfFalse
	OpJumpIfFalseOrPop
	OpJumpIfTrueOrPop

	// Builtins
	OpIndexIV
	OpIndexFV
	OpLenS
	OpLenIV
	OpLenFV
	OpSqrtF
	OpSqrtFV
	OpAbsI
	OpAbsF
	OpAbsIV
	OpAbsFV
	OpSumIV
	OpSumFV
	OpMinI
	OpMaxI
	OpMinF
	OpMaxF

	OpReturn

	opCount
)

var opNames = [...]string{
	OpConst: "CONST", OpParam: "PARAM",
	OpAddI: "ADD_I", OpSubI: "SUB_I", OpMulI: "MUL_I", OpDivI: "DIV_I", OpRemI: "REM_I", OpNegI: "NEG_I",
	OpAddF: "ADD_F", OpSubF: "SUB_F", OpMulF: "MUL_F", OpDivF: "DIV_F", OpNegF: "NEG_F",
	OpConcat: "CONCAT",
	OpCmpI: "CMP_I", OpCmpF: "CMP_F", OpCmpS: "CMP_S", OpCmpB: "CMP_B", OpNot: "NOT",
	OpI2F: "I2F", OpF2I: "F2I", OpIV2FV: "IV2FV",
	OpVecI: "VEC_I", OpVecF: "VEC_F", OpNegIV: "NEG_IV", OpNegFV: "NEG_FV",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE", OpJumpIfFalseOrPop: "JUMP_IF_FALSE_OR_POP", OpJumpIfTrueOrPop: "JUMP_IF_TRUE_OR_POP",
	OpIndexIV: "INDEX_IV", OpIndexFV: "INDEX_FV",
	OpLenS: "LEN_S", OpLenIV: "LEN_IV", OpLenFV: "LEN_FV",
	OpSqrtF: "SQRT_F", OpSqrtFV: "SQRT_FV",
	OpAbsI: "ABS_I", OpAbsF: "ABS_F", OpAbsIV: "ABS_IV", OpAbsFV: "ABS_FV",
	OpSumIV: "SUM_IV", OpSumFV: "SUM_FV",
	OpMinI: "MIN_I", OpMaxI: "MAX_I", OpMinF: "MIN_F", OpMaxF: "MAX_F",
	OpReturn: "RETURN",
}

func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint8(op))
}

// Comparison operands for the OpCmp* instructions.
const (
	cmpEq = iota
	cmpNe
	cmpLt
	cmpLe
	cmpGt
	cmpGe
)

var cmpNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

// Arithmetic operands for OpVecI and OpVecF.
const (
	arithAdd = iota
	arithSub
	arithMul
	arithDiv
)

var arithNames = [...]string{"add", "sub", "mul", "div"}

// Operand layouts for vector instructions.
const (
	vecVV = iota // vector, vector
	vecVS        // vector, scalar
	vecSV        // scalar, vector
)

var layoutNames = [...]string{"vv", "vs", "sv"}

// Instr is one instruction with up to two immediate operands.
type Instr struct {
	Op Opcode `cbor:"1,keyasint"`
	A  int32  `cbor:"2,keyasint,omitempty"`
	B  int32  `cbor:"3,keyasint,omitempty"`
}

// Const is a typed constant pool entry.
type Const struct {
	Type  Type    `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint,omitempty"`
	Str   string  `cbor:"4,keyasint,omitempty"`
	Bool  bool    `cbor:"5,keyasint,omitempty"`
}

func (c Const) value() any {
	switch c.Type {
	case TypeInt:
		return c.Int
	case TypeFloat:
		return c.Float
	case TypeString:
		return c.Str
	}
	return c.Bool
}

func (c Const) String() string {
	switch c.Type {
	case TypeString:
		return fmt.Sprintf("%q", c.Str)
	}
	return fmt.Sprintf("%v", c.value())
}

// Program is compiled code for one function at one signature.
type Program struct {
	Format    string  `cbor:"1,keyasint"`
	Function  string  `cbor:"2,keyasint"`
	Signature string  `cbor:"3,keyasint"`
	Params    []Type  `cbor:"4,keyasint"`
	Result    Type    `cbor:"5,keyasint"`
	Code      []Instr `cbor:"6,keyasint"`
	Consts    []Const `cbor:"7,keyasint,omitempty"`
	FastMath  bool    `cbor:"8,keyasint,omitempty"`
	Parallel  bool    `cbor:"9,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes a Program to canonical CBOR.
func MarshalProgram(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// UnmarshalProgram deserializes and validates a Program.
func UnmarshalProgram(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("compiler: unmarshal program: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that a program is well formed: known format, known
// opcodes, operands in range and a trailing return.
func (p *Program) Validate() error {
	if p.Format != shape.ArtifactFormat {
		return fmt.Errorf("compiler: program format %q, want %q", p.Format, shape.ArtifactFormat)
	}
	if len(p.Code) == 0 || p.Code[len(p.Code)-1].Op != OpReturn {
		return fmt.Errorf("compiler: program %s does not end in RETURN", p.Function)
	}
	for pc, in := range p.Code {
		if in.Op >= opCount {
			return fmt.Errorf("compiler: %04d: unknown opcode %d", pc, in.Op)
		}
		var limit int
		switch in.Op {
		case OpConst:
			limit = len(p.Consts)
		case OpParam:
			limit = len(p.Params)
		case OpJump, OpJumpIfFalse, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
			limit = len(p.Code)
		case OpCmpI, OpCmpF, OpCmpS, OpCmpB:
			limit = len(cmpNames)
		case OpVecI, OpVecF:
			limit = len(arithNames)
			if in.B < 0 || int(in.B) >= len(layoutNames) {
				return fmt.Errorf("compiler: %04d: %s layout %d out of range", pc, in.Op, in.B)
			}
		default:
			continue
		}
		if in.A < 0 || int(in.A) >= limit {
			return fmt.Errorf("compiler: %04d: %s operand %d out of range", pc, in.Op, in.A)
		}
	}
	return nil
}

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s%s -> %s ==\n", p.Function, p.Signature, p.Result)
	for pc, in := range p.Code {
		var operand string
		switch in.Op {
		case OpConst:
			operand = fmt.Sprintf("%d (%s)", in.A, p.Consts[in.A])
		case OpParam, OpJump, OpJumpIfFalse, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
			operand = fmt.Sprintf("%d", in.A)
		case OpCmpI, OpCmpF, OpCmpS, OpCmpB:
			operand = cmpNames[in.A]
		case OpVecI, OpVecF:
			operand = arithNames[in.A] + " " + layoutNames[in.B]
		}
		line := fmt.Sprintf("%04d %-20s %s", pc, in.Op, operand)
		sb.WriteString(strings.TrimRight(line, " "))
		sb.WriteString("\n")
	}
	return sb.String()
}
