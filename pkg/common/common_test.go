package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBondTypeIsOrderIndependent(t *testing.T) {
	assert.Equal(t, BondType("Cl-Na"), NewBondType("Na", "Cl"))
	assert.Equal(t, NewBondType("Cl", "Na"), NewBondType("Na", "Cl"))
	assert.Equal(t, BondType("O-O"), NewBondType("O", "O"))

	a, b := NewBondType("Zn", "O").Elements()
	assert.Equal(t, "O", a)
	assert.Equal(t, "Zn", b)
}

func TestPercentChange(t *testing.T) {
	r := ResultRow{StartingVolume: 100, PredictedVolume: 112.5}
	assert.InDelta(t, 12.5, r.PercentChange(), 1e-12)
	assert.Zero(t, ResultRow{PredictedVolume: 3}.PercentChange())
}

func TestMat3DetAndInverse(t *testing.T) {
	m := Mat3{{2, 0, 0}, {1, 3, 0}, {0.5, 0.25, 4}}
	assert.InDelta(t, 24.0, m.Det(), 1e-12)

	inv, err := m.Inverse()
	require.NoError(t, err)
	v := Vec3{0.3, -1.2, 2.5}
	back := inv.MulVec(m.MulVec(v))
	for i := range v {
		assert.InDelta(t, v[i], back[i], 1e-12)
	}

	_, err = Mat3{{1, 2, 3}, {2, 4, 6}, {0, 0, 1}}.Inverse()
	assert.ErrorIs(t, err, ErrSingular)
}

func TestInverseWithZeroLeadingEntry(t *testing.T) {
	// primitive fcc cell: m[0][0] == 0
	a := 2.0
	m := Mat3{{0, a, a}, {a, 0, a}, {a, a, 0}}
	assert.InDelta(t, 2*a*a*a, m.Det(), 1e-12)

	inv, err := m.Inverse()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		var e Vec3
		e[i] = 1
		back := inv.MulVec(m.MulVec(e))
		for j := range back {
			assert.InDelta(t, e[j], back[j], 1e-12)
		}
	}
}

func TestSolidAngleOctant(t *testing.T) {
	got := SolidAngle(Vec3{1, 0, 0}, Vec3{0, 1, 0}, Vec3{0, 0, 1})
	assert.InDelta(t, math.Pi/2, got, 1e-12)

	// scaling the triangle away from the origin does not change the angle
	got = SolidAngle(Vec3{3, 0, 0}, Vec3{0, 3, 0}, Vec3{0, 0, 3})
	assert.InDelta(t, math.Pi/2, got, 1e-12)
}
