package common

import (
	"errors"
	"fmt"
	"math"

	"github.com/katalvlaran/lvlath/matrix"
)

// Vec3 is a Cartesian or fractional 3-vector.
type Vec3 [3]float64

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func (a Vec3) Scale(k float64) Vec3 { return Vec3{a[0] * k, a[1] * k, a[2] * k} }

func (a Vec3) Dot(b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a Vec3) Norm() float64 { return math.Sqrt(a.Dot(a)) }

// Mat3 is a 3x3 matrix stored row-major. Lattices use one basis vector per row.
type Mat3 [3]Vec3

// ErrSingular is returned when a matrix cannot be inverted.
var ErrSingular = errors.New("common: singular matrix")

// Det is the scalar triple product of the rows.
func (m Mat3) Det() float64 {
	return m[0].Dot(m[1].Cross(m[2]))
}

// Inverse returns m⁻¹. The solve runs on the Gram matrix m·mᵀ, which is
// symmetric positive definite for any non-singular m, so the unpivoted LU in
// lvlath never meets a zero pivot on a valid lattice: m⁻¹ = mᵀ·(m·mᵀ)⁻¹.
func (m Mat3) Inverse() (Mat3, error) {
	a, err := m.dense()
	if err != nil {
		return Mat3{}, err
	}
	at, err := matrix.Transpose(a)
	if err != nil {
		return Mat3{}, err
	}
	gram, err := matrix.Mul(a, at)
	if err != nil {
		return Mat3{}, err
	}
	gi, err := matrix.Inverse(gram)
	if err != nil {
		return Mat3{}, fmt.Errorf("%w: %w", ErrSingular, err)
	}
	prod, err := matrix.Mul(at, gi)
	if err != nil {
		return Mat3{}, err
	}

	var inv Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v, err := prod.At(i, j)
			if err != nil {
				return Mat3{}, err
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Mat3{}, ErrSingular
			}
			inv[i][j] = v
		}
	}
	return inv, nil
}

func (m Mat3) dense() (*matrix.Dense, error) {
	d, err := matrix.NewDense(3, 3)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if err := d.Set(i, j, m[i][j]); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// MulVec treats v as a row vector and returns v·m.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return m[0].Scale(v[0]).Add(m[1].Scale(v[1])).Add(m[2].Scale(v[2]))
}

// Column returns the i-th column of m.
func (m Mat3) Column(i int) Vec3 {
	return Vec3{m[0][i], m[1][i], m[2][i]}
}

func (m Mat3) Scale(k float64) Mat3 {
	return Mat3{m[0].Scale(k), m[1].Scale(k), m[2].Scale(k)}
}

// SolidAngle returns the solid angle subtended at the origin by the triangle abc
// (Van Oosterom and Strackee).
func SolidAngle(a, b, c Vec3) float64 {
	la, lb, lc := a.Norm(), b.Norm(), c.Norm()
	num := math.Abs(a.Dot(b.Cross(c)))
	den := la*lb*lc + a.Dot(b)*lc + a.Dot(c)*lb + b.Dot(c)*la
	return 2 * math.Atan2(num, den)
}
