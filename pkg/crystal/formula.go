package crystal

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"crystalvol/pkg/elements"
)

// ReducedFormula returns the reduced cell formula with elements ordered by
// electronegativity (symbol order breaks ties and covers unknown elements).
func (s *Structure) ReducedFormula() string {
	comp := s.Composition()
	if len(comp) == 0 {
		return ""
	}

	symbols := make([]string, 0, len(comp))
	for el := range comp {
		symbols = append(symbols, el)
	}
	table := elements.Default()
	sort.Slice(symbols, func(i, j int) bool {
		xi, oki := table.Electronegativity(symbols[i])
		xj, okj := table.Electronegativity(symbols[j])
		if oki && okj && xi != xj {
			return xi < xj
		}
		if oki != okj {
			return oki
		}
		return symbols[i] < symbols[j]
	})

	divisor := 1.0
	if g := integerGCD(comp); g > 1 {
		divisor = float64(g)
	}

	var b strings.Builder
	for _, el := range symbols {
		b.WriteString(el)
		amt := comp[el] / divisor
		if math.Abs(amt-1) > occupancyTol {
			b.WriteString(formatAmount(amt))
		}
	}
	return b.String()
}

// integerGCD returns the gcd of the amounts, or 0 if any amount is fractional.
func integerGCD(comp map[string]float64) int {
	g := 0
	for _, amt := range comp {
		r := math.Round(amt)
		if math.Abs(amt-r) > occupancyTol || r < 1 {
			return 0
		}
		g = gcd(g, int(r))
	}
	return g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func formatAmount(x float64) string {
	if r := math.Round(x); math.Abs(x-r) <= occupancyTol {
		return strconv.Itoa(int(r))
	}
	return strconv.FormatFloat(x, 'f', -1, 64)
}
