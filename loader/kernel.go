// Package loader reads NDP kernels from assembly text files.
//
// A kernel file is a list of sections, each holding the instructions of one
// phase:
//
//	.kernel saxpy
//	.init
//	    li x5, 0
//	.body
//	    add x6, x1, x2
//	    lw x7, 0(x6)
//	loop:
//	    addi x7, x7, -1
//	    bne x7, x0, loop
//	.final
//
// .body may appear more than once; each one is a separate body phase. Labels
// are local to their section. Comments start with '#' or "//".
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PSAL-POSTECH/M2NDP-public-sub000/insts"
	"github.com/PSAL-POSTECH/M2NDP-public-sub000/timing/column"
)

// ErrSyntax is returned for a line that does not parse.
var ErrSyntax = errors.New("syntax error")

// Load reads a kernel file. The kernel takes the file's base name unless the
// file names it with .kernel.
func Load(path string, id int, codeBase uint64) (*column.Kernel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open kernel: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	k, err := Parse(f, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	k.ID = id
	k.CodeBase = codeBase

	return k, nil
}

type section struct {
	line   int
	lines  []sourceLine
	labels map[string]int
}

type sourceLine struct {
	num  int
	text string
}

// Parse reads a kernel from r.
func Parse(r io.Reader, name string) (*column.Kernel, error) {
	k := &column.Kernel{Name: name}

	var (
		init, final *section
		bodies      []*section
		cur         *section
	)

	sc := bufio.NewScanner(r)
	for num := 1; sc.Scan(); num++ {
		text := stripComment(sc.Text())
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, ".") {
			fields := strings.Fields(text)

			switch fields[0] {
			case ".kernel":
				if len(fields) != 2 {
					return nil, lineErr(num, "want .kernel <name>")
				}

				k.Name = fields[1]

				continue
			case ".init":
				if init != nil {
					return nil, lineErr(num, "second .init section")
				}

				init = newSection(num)
				cur = init
			case ".body":
				cur = newSection(num)
				bodies = append(bodies, cur)
			case ".final":
				if final != nil {
					return nil, lineErr(num, "second .final section")
				}

				final = newSection(num)
				cur = final
			default:
				return nil, lineErr(num, "unknown directive %s", fields[0])
			}

			continue
		}

		if cur == nil {
			return nil, lineErr(num, "instruction outside a section")
		}

		if err := cur.add(num, text); err != nil {
			return nil, err
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read kernel: %w", err)
	}

	if len(bodies) == 0 {
		return nil, fmt.Errorf("%w: no .body section", ErrSyntax)
	}

	var err error
	if k.Init, err = init.assemble(); err != nil {
		return nil, err
	}

	if k.Final, err = final.assemble(); err != nil {
		return nil, err
	}

	for _, b := range bodies {
		seq, err := b.assemble()
		if err != nil {
			return nil, err
		}

		k.Bodies = append(k.Bodies, seq)
	}

	return k, nil
}

func stripComment(s string) string {
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}

	if i := strings.Index(s, "//"); i >= 0 {
		s = s[:i]
	}

	return strings.TrimSpace(s)
}

func lineErr(num int, format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %w: %s", num, ErrSyntax,
		fmt.Sprintf(format, args...))
}

func newSection(num int) *section {
	return &section{line: num, labels: make(map[string]int)}
}

// add records a line, peeling off any leading labels.
func (s *section) add(num int, text string) error {
	for {
		i := strings.Index(text, ":")
		if i < 0 || strings.ContainsAny(text[:i], " \t,(") {
			break
		}

		label := text[:i]
		if _, dup := s.labels[label]; dup {
			return lineErr(num, "label %s defined twice", label)
		}

		s.labels[label] = len(s.lines)
		text = strings.TrimSpace(text[i+1:])
	}

	if text != "" {
		s.lines = append(s.lines, sourceLine{num: num, text: text})
	}

	return nil
}

func (s *section) assemble() ([]insts.Instruction, error) {
	if s == nil {
		return nil, nil
	}

	seq := make([]insts.Instruction, 0, len(s.lines))
	for _, l := range s.lines {
		inst, err := s.instruction(l)
		if err != nil {
			return nil, err
		}

		seq = append(seq, inst)
	}

	return seq, nil
}
