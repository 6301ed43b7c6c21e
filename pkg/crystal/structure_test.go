package crystal

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crystalvol/pkg/common"
)

func rockSalt(t *testing.T, a float64) *Structure {
	t.Helper()
	s, err := NewOrdered(Cubic(a),
		[]string{"Na", "Na", "Na", "Na", "Cl", "Cl", "Cl", "Cl"},
		[]common.Vec3{
			{0, 0, 0}, {0.5, 0.5, 0}, {0.5, 0, 0.5}, {0, 0.5, 0.5},
			{0.5, 0, 0}, {0, 0.5, 0}, {0, 0, 0.5}, {0.5, 0.5, 0.5},
		})
	require.NoError(t, err)
	return s
}

func TestScaleVolumeScalesLatticeByCubeRoot(t *testing.T) {
	s := rockSalt(t, 4.0)
	require.InDelta(t, 64.0, s.Volume(), 1e-12)

	scaled, err := s.Scaled(2 * 64.0)
	require.NoError(t, err)
	assert.InDelta(t, 128.0, scaled.Volume(), 1e-9)
	assert.InDelta(t, 4.0*math.Cbrt(2), scaled.Lattice[0].Norm(), 1e-12)

	// the source is untouched and fractional coordinates are preserved
	assert.InDelta(t, 64.0, s.Volume(), 1e-12)
	assert.Equal(t, s.Sites[3].Frac, scaled.Sites[3].Frac)

	require.ErrorIs(t, s.ScaleVolume(-1), common.ErrInvalidStructure)
}

func TestCopyIsDeep(t *testing.T) {
	s := rockSalt(t, 4.0)
	c := s.Copy()
	c.Sites[0].Species[0].Element = "K"
	c.Sites[0].Frac[0] = 0.25
	assert.Equal(t, "Na", s.Sites[0].Species[0].Element)
	assert.Equal(t, 0.0, s.Sites[0].Frac[0])
}

func TestNewRejectsSingularLattice(t *testing.T) {
	_, err := NewOrdered(common.Mat3{{1, 0, 0}, {2, 0, 0}, {0, 0, 1}}, []string{"Na"}, []common.Vec3{{}})
	require.ErrorIs(t, err, common.ErrInvalidStructure)

	_, err = NewOrdered(Cubic(3), []string{"Na", "Cl"}, []common.Vec3{{}})
	require.ErrorIs(t, err, common.ErrLengthMismatch)
}

func TestIsOrderedAndLabel(t *testing.T) {
	s := rockSalt(t, 4.0)
	assert.True(t, s.IsOrdered())
	assert.Equal(t, "Na", s.Label(0))

	s.Sites[0].Species = []Specie{{Element: "Fe", Occupancy: 0.5}, {Element: "Ni", Occupancy: 0.5}}
	assert.False(t, s.IsOrdered())
	assert.Equal(t, "FeNi", s.Label(0))

	s.Sites[0].Species = []Specie{{Element: "Fe", Occupancy: 0.9}}
	assert.False(t, s.IsOrdered())
}

func TestReducedFormula(t *testing.T) {
	assert.Equal(t, "NaCl", rockSalt(t, 4.0).ReducedFormula())

	s, err := NewOrdered(Cubic(5), []string{"O", "Ti", "O"}, []common.Vec3{{}, {0.5, 0.5, 0.5}, {0.25, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, "TiO2", s.ReducedFormula())
}

func TestJSONRoundTrip(t *testing.T) {
	s := rockSalt(t, 5.64)
	s.Sites[1].Species[0].Oxidation = 1

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"matrix"`)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, s.Lattice, back.Lattice)
	assert.Equal(t, s.Sites, back.Sites)
}

func TestFromJSONDefaultsOccupancy(t *testing.T) {
	doc := `{"lattice":{"matrix":[[3,0,0],[0,3,0],[0,0,3]]},
		"sites":[{"species":[{"element":"Cu"}],"abc":[0,0,0]}]}`
	s, err := FromJSON([]byte(doc))
	require.NoError(t, err)
	assert.True(t, s.IsOrdered())
	assert.InDelta(t, 27.0, s.Volume(), 1e-12)

	_, err = FromJSON([]byte(`{"lattice":{"matrix":[[0,0,0],[0,3,0],[0,0,3]]},"sites":[]}`))
	require.ErrorIs(t, err, common.ErrInvalidStructure)
}

func TestParsePOSCAR(t *testing.T) {
	direct := `NaCl
1.0
  5.64 0.0 0.0
  0.0 5.64 0.0
  0.0 0.0 5.64
Na Cl
1 1
Direct
  0.0 0.0 0.0
  0.5 0.5 0.5
`
	s, err := ParsePOSCAR(strings.NewReader(direct))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "Cl", s.Label(1))
	assert.InDelta(t, 5.64*5.64*5.64, s.Volume(), 1e-9)

	cart := `scaled cartesian
2.0
  2.0 0.0 0.0
  0.0 2.0 0.0
  0.0 0.0 2.0
Cs_sv Cl
1 1
Selective dynamics
Cartesian
  0.0 0.0 0.0 T T T
  1.0 1.0 1.0 T T T
`
	s, err = ParsePOSCAR(strings.NewReader(cart))
	require.NoError(t, err)
	assert.Equal(t, "Cs", s.Label(0))
	assert.InDelta(t, 64.0, s.Volume(), 1e-9)
	assert.InDelta(t, 0.5, s.Sites[1].Frac[2], 1e-12)

	volume := strings.Replace(direct, "\n1.0\n", "\n-100\n", 1)
	s, err = ParsePOSCAR(strings.NewReader(volume))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, s.Volume(), 1e-9)

	_, err = ParsePOSCAR(strings.NewReader("short\n1.0\n"))
	require.ErrorIs(t, err, common.ErrInvalidStructure)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	s := rockSalt(t, 5.0)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	jsonPath := filepath.Join(dir, "nacl.json")
	require.NoError(t, os.WriteFile(jsonPath, data, 0644))

	got, err := ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "NaCl", got.ReducedFormula())

	poscar := "Po\n1.0\n3 0 0\n0 3 0\n0 0 3\nPo\n1\nDirect\n0 0 0\n"
	poscarPath := filepath.Join(dir, "POSCAR")
	require.NoError(t, os.WriteFile(poscarPath, []byte(poscar), 0644))
	got, err = ReadFile(poscarPath)
	require.NoError(t, err)
	assert.InDelta(t, 27.0, got.Volume(), 1e-9)

	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
