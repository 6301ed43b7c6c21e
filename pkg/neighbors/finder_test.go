package neighbors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
)

func simpleCubic(t *testing.T, a float64) *crystal.Structure {
	t.Helper()
	s, err := crystal.NewOrdered(crystal.Cubic(a), []string{"Po"}, []common.Vec3{{0, 0, 0}})
	require.NoError(t, err)
	return s
}

func bcc(t *testing.T, a float64) *crystal.Structure {
	t.Helper()
	s, err := crystal.NewOrdered(crystal.Cubic(a), []string{"Fe", "Fe"}, []common.Vec3{{0, 0, 0}, {0.5, 0.5, 0.5}})
	require.NoError(t, err)
	return s
}

func TestWithinExcludesSelfAndSortsByDistance(t *testing.T) {
	s := simpleCubic(t, 3)

	nbrs, err := Within(s, 0, 3.01)
	require.NoError(t, err)
	require.Len(t, nbrs, 6)
	for _, n := range nbrs {
		assert.InDelta(t, 3.0, n.Distance, 1e-12)
		assert.Equal(t, "Po", n.Label)
	}

	nbrs, err = Within(s, 0, 4.3)
	require.NoError(t, err)
	require.Len(t, nbrs, 18)
	assert.InDelta(t, 3.0, nbrs[0].Distance, 1e-12)
	assert.InDelta(t, 3*math.Sqrt2, nbrs[len(nbrs)-1].Distance, 1e-12)
}

func TestWithinHandlesSkewedLattice(t *testing.T) {
	// hexagonal cell: in-plane neighbors at a, out-of-plane at c
	a, c := 2.5, 4.0
	lat := common.Mat3{{a, 0, 0}, {-a / 2, a * math.Sqrt(3) / 2, 0}, {0, 0, c}}
	s, err := crystal.NewOrdered(lat, []string{"Mg"}, []common.Vec3{{0.9, 0.9, 0.9}})
	require.NoError(t, err)

	nbrs, err := Within(s, 0, a+1e-6)
	require.NoError(t, err)
	assert.Len(t, nbrs, 6)
}

func TestCutoffFinderDoublesUntilFound(t *testing.T) {
	s := simpleCubic(t, 20)

	f := &CutoffFinder{Cutoff: 8, MaxCutoff: 32}
	nbrs, err := f.Neighbors(s, 0)
	require.NoError(t, err)
	// 8 and 16 find nothing; 32 reaches the 20 Å and 28.3 Å shells
	require.NotEmpty(t, nbrs)
	assert.InDelta(t, 20.0, nbrs[0].Distance, 1e-12)

	far := simpleCubic(t, 40)
	_, err = f.Neighbors(far, 0)
	require.ErrorIs(t, err, common.ErrNoNeighbors)

	empty, err := Escalate(far, 0, 8, 32)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Escalate(far, 0, 0, 32)
	require.Error(t, err)
}

func TestVoronoiSimpleCubicHasSixFaces(t *testing.T) {
	s := simpleCubic(t, 3)

	nbrs, err := NewVoronoiFinder().Neighbors(s, 0)
	require.NoError(t, err)
	require.Len(t, nbrs, 6)
	for _, n := range nbrs {
		assert.InDelta(t, 3.0, n.Distance, 1e-12)
	}
}

func TestVoronoiToleranceSelectsFaces(t *testing.T) {
	s := bcc(t, 2.87)

	// hexagonal faces to the 8 body-diagonal neighbors dominate the square faces
	nbrs, err := NewVoronoiFinder().Neighbors(s, 0)
	require.NoError(t, err)
	require.Len(t, nbrs, 8)
	assert.InDelta(t, 2.87*math.Sqrt(3)/2, nbrs[0].Distance, 1e-9)

	loose := &VoronoiFinder{Tolerance: 0.2, Cutoff: 10, MinDistance: 0.1}
	nbrs, err = loose.Neighbors(s, 1)
	require.NoError(t, err)
	assert.Len(t, nbrs, 14)
}

func TestVoronoiFacesCoverFullSphere(t *testing.T) {
	s := bcc(t, 3.1)
	center := s.Cart(0)
	cands, err := sphere(s, center, 10)
	require.NoError(t, err)

	cell := newCube(10)
	for i, n := range cands {
		if n.Distance < selfTol {
			continue
		}
		p := n.Coords.Sub(center)
		cell.clip(p, p.Dot(p)/2, i)
	}
	total := 0.0
	for _, fc := range cell.faces {
		total += fc.solidAngle()
	}
	assert.InDelta(t, 4*math.Pi, total, 1e-9)
	assert.Len(t, cell.faces, 14)
}

func TestVoronoiDegenerateGeometry(t *testing.T) {
	s := simpleCubic(t, 3)
	f := &VoronoiFinder{Tolerance: 0.5, Cutoff: 2, MinDistance: 0.1}
	_, err := f.Neighbors(s, 0)
	require.ErrorIs(t, err, common.ErrGeometryDegenerate)

	overlap, err := crystal.NewOrdered(crystal.Cubic(3), []string{"Na", "Cl"}, []common.Vec3{{0, 0, 0}, {0, 0, 0}})
	require.NoError(t, err)
	_, err = NewVoronoiFinder().Neighbors(overlap, 0)
	require.ErrorIs(t, err, common.ErrGeometryDegenerate)
}

func TestPrimitiveFCCCell(t *testing.T) {
	lat := common.Mat3{{0, 2, 2}, {2, 0, 2}, {2, 2, 0}}
	s, err := crystal.NewOrdered(lat, []string{"Cu"}, []common.Vec3{{0, 0, 0}})
	require.NoError(t, err)

	nbrs, err := NewVoronoiFinder().Neighbors(s, 0)
	require.NoError(t, err)
	require.Len(t, nbrs, 12)
	for _, n := range nbrs {
		assert.InDelta(t, 2*math.Sqrt2, n.Distance, 1e-9)
	}
}
