package crystal

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"crystalvol/pkg/common"
)

// ParsePOSCAR reads a VASP 5 POSCAR (element symbols on the line after the
// lattice). A negative scale factor is interpreted as the target cell volume.
func ParsePOSCAR(r io.Reader) (*Structure, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	bad := func(format string, args ...any) error {
		return fmt.Errorf("poscar: "+format+": %w", append(args, common.ErrInvalidStructure)...)
	}
	if len(lines) < 8 {
		return nil, bad("too short (%d lines)", len(lines))
	}

	scale, err := strconv.ParseFloat(firstField(lines[1]), 64)
	if err != nil || scale == 0 {
		return nil, bad("scale factor %q", lines[1])
	}

	var lattice common.Mat3
	for i := 0; i < 3; i++ {
		v, err := parseVec(lines[2+i])
		if err != nil {
			return nil, bad("lattice vector %d: %v", i+1, err)
		}
		lattice[i] = v
	}
	// Cartesian coordinates share the lattice's scale, so fractions are taken
	// against the unscaled vectors.
	raw := lattice
	if scale > 0 {
		lattice = lattice.Scale(scale)
	}

	symbols := strings.Fields(lines[5])
	if len(symbols) == 0 || !isSymbol(symbols[0]) {
		return nil, bad("element symbol line missing (VASP 4 files are not supported)")
	}
	countFields := strings.Fields(lines[6])
	if len(countFields) != len(symbols) {
		return nil, bad("%d symbols but %d counts", len(symbols), len(countFields))
	}
	var elems []string
	for i, f := range countFields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, bad("count %q", f)
		}
		for j := 0; j < n; j++ {
			elems = append(elems, trimPotcarSuffix(symbols[i]))
		}
	}

	idx := 7
	if strings.HasPrefix(strings.ToLower(lines[idx]), "s") {
		idx++ // selective dynamics
	}
	if idx >= len(lines) {
		return nil, bad("coordinate mode missing")
	}
	mode := strings.ToLower(lines[idx])
	cartesian := strings.HasPrefix(mode, "c") || strings.HasPrefix(mode, "k")
	idx++

	if len(lines) < idx+len(elems) {
		return nil, bad("expected %d coordinates, file has %d lines left", len(elems), len(lines)-idx)
	}
	inv, err := raw.Inverse()
	if err != nil {
		return nil, bad("singular lattice")
	}

	fracs := make([]common.Vec3, len(elems))
	for i := range elems {
		v, err := parseVec(lines[idx+i])
		if err != nil {
			return nil, bad("coordinate %d: %v", i+1, err)
		}
		if cartesian {
			v = inv.MulVec(v)
		}
		fracs[i] = v
	}
	return finishPOSCAR(lattice, scale, elems, fracs)
}

func finishPOSCAR(lattice common.Mat3, scale float64, elems []string, fracs []common.Vec3) (*Structure, error) {
	s, err := NewOrdered(lattice, elems, fracs)
	if err != nil {
		return nil, err
	}
	if scale < 0 {
		if err := s.ScaleVolume(-scale); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseVec(line string) (common.Vec3, error) {
	f := strings.Fields(line)
	if len(f) < 3 {
		return common.Vec3{}, fmt.Errorf("need 3 numbers, got %q", line)
	}
	var v common.Vec3
	for i := 0; i < 3; i++ {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return common.Vec3{}, fmt.Errorf("bad number %q", f[i])
		}
		v[i] = x
	}
	return v, nil
}

func firstField(line string) string {
	f := strings.Fields(line)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func isSymbol(s string) bool {
	r := []rune(s)
	return len(r) > 0 && unicode.IsUpper(r[0])
}

// trimPotcarSuffix maps labels such as "Fe_pv" or "O/abc" to the bare symbol.
func trimPotcarSuffix(s string) string {
	if i := strings.IndexAny(s, "_/"); i > 0 {
		return s[:i]
	}
	return s
}
