package loader

import (
	"strconv"
	"strings"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
)

// numLogical is the number of architectural registers per class.
const numLogical = 32

type operand struct {
	class  insts.RegClass
	value  int64
	label  string
	mem    bool
	offset int64
}

// modifiers are operands that annotate the instruction instead of filling a
// slot.
type modifiers struct {
	masked   bool
	segments int
	sew      int
	lmul     int
}

func parseRegister(tok string) (insts.RegClass, int64, bool) {
	if len(tok) < 2 {
		return insts.ClassNone, 0, false
	}

	var class insts.RegClass
	switch tok[0] {
	case 'x':
		class = insts.ClassInt
	case 'f':
		class = insts.ClassFloat
	case 'v':
		class = insts.ClassVector
	default:
		return insts.ClassNone, 0, false
	}

	n, err := strconv.Atoi(tok[1:])
	if err != nil || n < 0 || n >= numLogical {
		return insts.ClassNone, 0, false
	}

	return class, int64(n), true
}

// prefixedInt parses tokens such as e32 or nf=4.
func prefixedInt(tok, prefix string) (int, bool) {
	if !strings.HasPrefix(tok, prefix) {
		return 0, false
	}

	n, err := strconv.Atoi(tok[len(prefix):])
	if err != nil || n <= 0 {
		return 0, false
	}

	return n, true
}

func isIdent(tok string) bool {
	for i, r := range tok {
		letter := r == '_' || r == '.' || (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z')
		if !letter && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}

	return tok != ""
}

func parseOperands(num int, text string) ([]operand, modifiers, error) {
	var (
		ops []operand
		mod modifiers
	)

	if text == "" {
		return nil, mod, nil
	}

	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)

		if tok == "v0.t" {
			mod.masked = true
			continue
		}

		if n, ok := prefixedInt(tok, "nf="); ok {
			mod.segments = n
			continue
		}

		if n, ok := prefixedInt(tok, "e"); ok {
			mod.sew = n
			continue
		}

		if n, ok := prefixedInt(tok, "m"); ok {
			mod.lmul = n
			continue
		}

		op, err := parseOperand(num, tok)
		if err != nil {
			return nil, mod, err
		}

		ops = append(ops, op)
	}

	return ops, mod, nil
}

func parseOperand(num int, tok string) (operand, error) {
	if open := strings.Index(tok, "("); open >= 0 {
		if !strings.HasSuffix(tok, ")") {
			return operand{}, lineErr(num, "bad memory operand %q", tok)
		}

		class, reg, ok := parseRegister(tok[open+1 : len(tok)-1])
		if !ok || class != insts.ClassInt {
			return operand{}, lineErr(num, "bad base register in %q", tok)
		}

		var off int64
		if open > 0 {
			var err error
			off, err = strconv.ParseInt(tok[:open], 0, 64)
			if err != nil {
				return operand{}, lineErr(num, "bad offset in %q", tok)
			}
		}

		return operand{class: class, value: reg, mem: true, offset: off}, nil
	}

	if class, reg, ok := parseRegister(tok); ok {
		return operand{class: class, value: reg}, nil
	}

	if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return operand{class: insts.ClassImm, value: v}, nil
	}

	if isIdent(tok) {
		return operand{label: tok}, nil
	}

	return operand{}, lineErr(num, "bad operand %q", tok)
}

// instruction assembles one line. Operands are written destination first,
// then sources in slot order, with the address base in parentheses.
func (s *section) instruction(l sourceLine) (insts.Instruction, error) {
	mnemonic, rest := l.text, ""
	if i := strings.IndexAny(l.text, " \t"); i >= 0 {
		mnemonic, rest = l.text[:i], l.text[i+1:]
	}

	op, ok := insts.Lookup(mnemonic)
	if !ok {
		return insts.Instruction{}, lineErr(l.num, "unknown mnemonic %s",
			mnemonic)
	}

	ops, mod, err := parseOperands(l.num, strings.TrimSpace(rest))
	if err != nil {
		return insts.Instruction{}, err
	}

	a := &assembler{num: l.num, shape: op.Info().Shape}
	for _, o := range ops {
		if o.mem {
			if a.mem != nil {
				return insts.Instruction{}, lineErr(l.num,
					"more than one memory operand")
			}

			m := o
			a.mem = &m

			continue
		}

		a.plain = append(a.plain, o)
	}

	flat, err := a.flatten(mod)
	if err != nil {
		return insts.Instruction{}, err
	}

	inst, err := insts.Make(op, flat...)
	if err != nil {
		return insts.Instruction{}, lineErr(l.num, "%v", err)
	}

	if inst.IsBranch() {
		if inst.Target, err = s.target(a); err != nil {
			return insts.Instruction{}, err
		}
	}

	if len(a.plain) > 0 {
		return insts.Instruction{}, lineErr(l.num, "too many operands")
	}

	if mod.masked {
		inst = inst.Masked()
	}

	if mod.segments > 0 {
		inst = inst.WithSegments(mod.segments)
	}

	if err := inst.Validate(); err != nil {
		return insts.Instruction{}, lineErr(l.num, "%v", err)
	}

	return inst, nil
}

func (s *section) target(a *assembler) (int, error) {
	if len(a.plain) == 0 {
		return 0, lineErr(a.num, "missing branch target")
	}

	t := a.plain[0]
	a.plain = a.plain[1:]

	if t.label == "" {
		if t.class != insts.ClassImm {
			return 0, lineErr(a.num, "bad branch target")
		}

		return int(t.value), nil
	}

	idx, ok := s.labels[t.label]
	if !ok {
		return 0, lineErr(a.num, "undefined label %s", t.label)
	}

	return idx, nil
}

type assembler struct {
	num   int
	shape insts.Shape
	plain []operand
	mem   *operand
}

func (a *assembler) next(class insts.RegClass) (int64, error) {
	if len(a.plain) == 0 {
		return 0, lineErr(a.num, "missing %s operand", class)
	}

	o := a.plain[0]
	if o.label != "" || o.class != class {
		return 0, lineErr(a.num, "want %s operand", class)
	}

	a.plain = a.plain[1:]

	return o.value, nil
}

// flatten orders the operands the way insts.Make takes them.
func (a *assembler) flatten(mod modifiers) ([]int64, error) {
	info := a.shape.Info()

	if info.Base >= 0 && a.mem == nil {
		return nil, lineErr(a.num, "missing (base) operand")
	}

	if info.Base < 0 && a.mem != nil {
		return nil, lineErr(a.num, "unexpected memory operand")
	}

	var flat []int64

	if info.Dst != insts.ClassNone {
		v, err := a.next(info.Dst)
		if err != nil {
			return nil, err
		}

		flat = append(flat, v)
	}

	for k, c := range info.Src {
		var (
			v   int64
			err error
		)

		switch {
		case c == insts.ClassNone:
			continue
		case k == info.Base:
			v = a.mem.value
		case c == insts.ClassImm && info.Base >= 0:
			v = a.mem.offset
		case c == insts.ClassImm && a.shape == insts.ShapeCSR && mod.sew > 0:
			lmul := mod.lmul
			if lmul == 0 {
				lmul = 1
			}

			v = insts.EncodeVType(mod.sew, lmul)
		default:
			v, err = a.next(c)
		}

		if err != nil {
			return nil, err
		}

		flat = append(flat, v)
	}

	return flat, nil
}
