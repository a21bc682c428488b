package insts

// Opcode identifies an operation.
type Opcode uint16

// Opcodes.
const (
	OpInvalid Opcode = iota

	// Scalar integer.
	OpADD
	OpSUB
	OpAND
	OpOR
	OpXOR
	OpSLL
	OpSRL
	OpMUL
	OpDIV
	OpREM
	OpADDI
	OpANDI
	OpSLLI
	OpSRLI
	OpLI

	// Control.
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpJAL
	OpVSETVLI

	// Scalar float.
	OpFADD
	OpFSUB
	OpFMUL
	OpFDIV
	OpFSQRT
	OpFMADD
	OpFMVWX
	OpFMVXW
	OpFEQ
	OpFLT

	// Scalar memory.
	OpLW
	OpLD
	OpSW
	OpSD
	OpFLW
	OpFSW
	OpAMOADDW
	OpAMOADDD

	// Vector integer.
	OpVADDVV
	OpVADDVX
	OpVADDVI
	OpVSUBVV
	OpVMULVV
	OpVMULVX
	OpVANDVV
	OpVSLLVI
	OpVMVVX
	OpVMVXS
	OpVIDV
	OpVMSEQVX
	OpVREDSUMVS

	// Vector float.
	OpVFADDVV
	OpVFADDVF
	OpVFMULVV
	OpVFMVFS
	OpVFEXPV
	OpVFSQRTV

	// Widening and narrowing.
	OpVWADDVV
	OpVWMULVV
	OpVWADDUVX
	OpVFWADDVV
	OpVFWCVTFFV
	OpVNSRLWI
	OpVFNCVTFFW

	// Vector memory.
	OpVLE32
	OpVLE64
	OpVSE32
	OpVSE64
	OpVLSE32
	OpVSSE32
	OpVLUXEI32
	OpVSUXEI32
	OpVLSEGE32
	OpVSSEGE32
	OpVAMOADDEI32

	numOpcodes
)

// FUClass is the kind of functional unit an opcode executes on.
type FUClass uint8

// Functional unit classes.
const (
	FUInt FUClass = iota
	FUFloat
	FUSFU
	FUAddr
	NumFUClasses
)

func (c FUClass) String() string {
	switch c {
	case FUInt:
		return "Int"
	case FUFloat:
		return "Float"
	case FUSFU:
		return "SFU"
	case FUAddr:
		return "Addr"
	default:
		return "Unknown"
	}
}

// Flags are structural properties of an opcode.
type Flags uint16

// Opcode flags.
const (
	FlagLoad Flags = 1 << iota
	FlagStore
	FlagAtomic
	FlagBranch
	FlagCSR
	FlagWiden
	FlagNarrow
	FlagLongLatency
)

// OpInfo is the static description of an opcode.
type OpInfo struct {
	Name     string
	Shape    Shape
	Unit     FUClass
	Vector   bool
	Flags    Flags
	MemBytes int
}

func scalar(name string, shape Shape, unit FUClass, flags Flags) OpInfo {
	return OpInfo{Name: name, Shape: shape, Unit: unit, Flags: flags}
}

func vector(name string, shape Shape, unit FUClass, flags Flags) OpInfo {
	return OpInfo{
		Name:   name,
		Shape:  shape,
		Unit:   unit,
		Vector: true,
		Flags:  flags,
	}
}

func memOp(name string, shape Shape, vec bool, flags Flags, bytes int) OpInfo {
	return OpInfo{
		Name:     name,
		Shape:    shape,
		Unit:     FUAddr,
		Vector:   vec,
		Flags:    flags,
		MemBytes: bytes,
	}
}

var opTable = [numOpcodes]OpInfo{
	OpInvalid: scalar("invalid", ShapeNone, FUInt, 0),

	OpADD:  scalar("add", ShapeXXX, FUInt, 0),
	OpSUB:  scalar("sub", ShapeXXX, FUInt, 0),
	OpAND:  scalar("and", ShapeXXX, FUInt, 0),
	OpOR:   scalar("or", ShapeXXX, FUInt, 0),
	OpXOR:  scalar("xor", ShapeXXX, FUInt, 0),
	OpSLL:  scalar("sll", ShapeXXX, FUInt, 0),
	OpSRL:  scalar("srl", ShapeXXX, FUInt, 0),
	OpMUL:  scalar("mul", ShapeXXX, FUInt, FlagLongLatency),
	OpDIV:  scalar("div", ShapeXXX, FUSFU, 0),
	OpREM:  scalar("rem", ShapeXXX, FUSFU, 0),
	OpADDI: scalar("addi", ShapeXXI, FUInt, 0),
	OpANDI: scalar("andi", ShapeXXI, FUInt, 0),
	OpSLLI: scalar("slli", ShapeXXI, FUInt, 0),
	OpSRLI: scalar("srli", ShapeXXI, FUInt, 0),
	OpLI:   scalar("li", ShapeXI, FUInt, 0),

	OpBEQ:     scalar("beq", ShapeBranch, FUInt, FlagBranch),
	OpBNE:     scalar("bne", ShapeBranch, FUInt, FlagBranch),
	OpBLT:     scalar("blt", ShapeBranch, FUInt, FlagBranch),
	OpBGE:     scalar("bge", ShapeBranch, FUInt, FlagBranch),
	OpJAL:     scalar("jal", ShapeJump, FUInt, FlagBranch),
	OpVSETVLI: scalar("vsetvli", ShapeCSR, FUInt, FlagCSR),

	OpFADD:  scalar("fadd", ShapeFFF, FUFloat, 0),
	OpFSUB:  scalar("fsub", ShapeFFF, FUFloat, 0),
	OpFMUL:  scalar("fmul", ShapeFFF, FUFloat, 0),
	OpFDIV:  scalar("fdiv", ShapeFFF, FUSFU, 0),
	OpFSQRT: scalar("fsqrt", ShapeFF, FUSFU, 0),
	OpFMADD: scalar("fmadd", ShapeFFFF, FUFloat, FlagLongLatency),
	OpFMVWX: scalar("fmv.w.x", ShapeFX, FUFloat, 0),
	OpFMVXW: scalar("fmv.x.w", ShapeXF, FUFloat, 0),
	OpFEQ:   scalar("feq", ShapeXFF, FUFloat, 0),
	OpFLT:   scalar("flt", ShapeXFF, FUFloat, 0),

	OpLW:      memOp("lw", ShapeLoadX, false, FlagLoad, 4),
	OpLD:      memOp("ld", ShapeLoadX, false, FlagLoad, 8),
	OpSW:      memOp("sw", ShapeStoreX, false, FlagStore, 4),
	OpSD:      memOp("sd", ShapeStoreX, false, FlagStore, 8),
	OpFLW:     memOp("flw", ShapeLoadF, false, FlagLoad, 4),
	OpFSW:     memOp("fsw", ShapeStoreF, false, FlagStore, 4),
	OpAMOADDW: memOp("amoadd.w", ShapeAmoX, false, FlagAtomic, 4),
	OpAMOADDD: memOp("amoadd.d", ShapeAmoX, false, FlagAtomic, 8),

	OpVADDVV:    vector("vadd.vv", ShapeVVV, FUInt, 0),
	OpVADDVX:    vector("vadd.vx", ShapeVVX, FUInt, 0),
	OpVADDVI:    vector("vadd.vi", ShapeVVI, FUInt, 0),
	OpVSUBVV:    vector("vsub.vv", ShapeVVV, FUInt, 0),
	OpVMULVV:    vector("vmul.vv", ShapeVVV, FUInt, FlagLongLatency),
	OpVMULVX:    vector("vmul.vx", ShapeVVX, FUInt, FlagLongLatency),
	OpVANDVV:    vector("vand.vv", ShapeVVV, FUInt, 0),
	OpVSLLVI:    vector("vsll.vi", ShapeVVI, FUInt, 0),
	OpVMVVX:     vector("vmv.v.x", ShapeVX, FUInt, 0),
	OpVMVXS:     vector("vmv.x.s", ShapeXV, FUInt, 0),
	OpVIDV:      vector("vid.v", ShapeV, FUInt, 0),
	OpVMSEQVX:   vector("vmseq.vx", ShapeVVX, FUInt, 0),
	OpVREDSUMVS: vector("vredsum.vs", ShapeVVV, FUInt, FlagLongLatency),

	OpVFADDVV: vector("vfadd.vv", ShapeVVV, FUFloat, 0),
	OpVFADDVF: vector("vfadd.vf", ShapeVVF, FUFloat, 0),
	OpVFMULVV: vector("vfmul.vv", ShapeVVV, FUFloat, 0),
	OpVFMVFS:  vector("vfmv.f.s", ShapeFV, FUFloat, 0),
	OpVFEXPV:  vector("vfexp.v", ShapeVV, FUSFU, 0),
	OpVFSQRTV: vector("vfsqrt.v", ShapeVV, FUSFU, 0),

	OpVWADDVV:   vector("vwadd.vv", ShapeVVV, FUInt, FlagWiden),
	OpVWMULVV:   vector("vwmul.vv", ShapeVVV, FUInt, FlagWiden|FlagLongLatency),
	OpVWADDUVX:  vector("vwaddu.vx", ShapeVVX, FUInt, FlagWiden),
	OpVFWADDVV:  vector("vfwadd.vv", ShapeVVV, FUFloat, FlagWiden),
	OpVFWCVTFFV: vector("vfwcvt.f.f.v", ShapeVV, FUFloat, FlagWiden),
	OpVNSRLWI:   vector("vnsrl.wi", ShapeVVI, FUInt, FlagNarrow),
	OpVFNCVTFFW: vector("vfncvt.f.f.w", ShapeVV, FUFloat, FlagNarrow),

	OpVLE32:       memOp("vle32.v", ShapeLoadV, true, FlagLoad, 4),
	OpVLE64:       memOp("vle64.v", ShapeLoadV, true, FlagLoad, 8),
	OpVSE32:       memOp("vse32.v", ShapeStoreV, true, FlagStore, 4),
	OpVSE64:       memOp("vse64.v", ShapeStoreV, true, FlagStore, 8),
	OpVLSE32:      memOp("vlse32.v", ShapeLoadVS, true, FlagLoad, 4),
	OpVSSE32:      memOp("vsse32.v", ShapeStoreVS, true, FlagStore, 4),
	OpVLUXEI32:    memOp("vluxei32.v", ShapeLoadVX, true, FlagLoad, 4),
	OpVSUXEI32:    memOp("vsuxei32.v", ShapeStoreVX, true, FlagStore, 4),
	OpVLSEGE32:    memOp("vlsege32.v", ShapeLoadV, true, FlagLoad, 4),
	OpVSSEGE32:    memOp("vssege32.v", ShapeStoreV, true, FlagStore, 4),
	OpVAMOADDEI32: memOp("vamoaddei32.v", ShapeAmoV, true, FlagAtomic, 4),
}

// Info returns the static description of the opcode.
func (op Opcode) Info() OpInfo {
	return opTable[op]
}

func (op Opcode) String() string {
	if int(op) >= len(opTable) {
		return "unknown"
	}

	return opTable[op].Name
}

// Lookup finds an opcode by its mnemonic.
func Lookup(name string) (Opcode, bool) {
	for op := Opcode(1); op < numOpcodes; op++ {
		if opTable[op].Name == name {
			return op, true
		}
	}

	return OpInvalid, false
}
