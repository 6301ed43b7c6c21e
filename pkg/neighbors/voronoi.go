package neighbors

import (
	"fmt"
	"math"
	"sort"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
)

const (
	planeTol = 1e-9
	mergeTol = 1e-8
	boxOwner = -1
)

// VoronoiFinder selects the neighbors whose Voronoi face, seen from the site,
// subtends a solid angle larger than Tolerance times the largest face.
type VoronoiFinder struct {
	// Tolerance is the minimum solid angle relative to the largest face.
	Tolerance float64
	// Cutoff bounds the neighbor sphere and the initial cell; a cell that is
	// not closed inside it is reported as degenerate.
	Cutoff float64
	// MinDistance drops numerical self matches.
	MinDistance float64
}

func NewVoronoiFinder() *VoronoiFinder {
	return &VoronoiFinder{Tolerance: 0.5, Cutoff: 10, MinDistance: 0.1}
}

func (f *VoronoiFinder) Neighbors(s *crystal.Structure, site int) ([]Neighbor, error) {
	center := s.Cart(site)
	cands, err := sphere(s, center, f.Cutoff)
	if err != nil {
		return nil, err
	}

	cell := newCube(f.Cutoff)
	for i, n := range cands {
		if n.Distance < selfTol {
			if n.Index == site && n.Image == [3]int{} {
				continue
			}
			return nil, fmt.Errorf("site %d overlaps site %d: %w", site, n.Index, common.ErrGeometryDegenerate)
		}
		// candidates are sorted, so once a bisector lies beyond the cell nothing else can cut it
		if n.Distance/2 > cell.radius()+planeTol {
			break
		}
		p := n.Coords.Sub(center)
		cell.clip(p, p.Dot(p)/2, i)
	}

	angles := make(map[int]float64, len(cell.faces))
	maxAngle := 0.0
	for _, fc := range cell.faces {
		if fc.owner == boxOwner {
			return nil, fmt.Errorf("site %d: cell not closed within %.1f Å: %w", site, f.Cutoff, common.ErrGeometryDegenerate)
		}
		a := fc.solidAngle()
		angles[fc.owner] += a
		maxAngle = math.Max(maxAngle, angles[fc.owner])
	}
	if len(angles) == 0 || maxAngle <= 0 {
		return nil, fmt.Errorf("site %d: empty cell: %w", site, common.ErrGeometryDegenerate)
	}

	var out []Neighbor
	for owner, a := range angles {
		n := cands[owner]
		if a/maxAngle > f.Tolerance && n.Distance >= f.MinDistance {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return lessImage(out[i].Image, out[j].Image)
	})
	return out, nil
}

func lessImage(a, b [3]int) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type face struct {
	owner int
	verts []common.Vec3
}

// solidAngle sums the fan triangles of the (convex) face as seen from the origin.
func (fc face) solidAngle() float64 {
	total := 0.0
	for i := 1; i+1 < len(fc.verts); i++ {
		total += common.SolidAngle(fc.verts[0], fc.verts[i], fc.verts[i+1])
	}
	return total
}

// polyhedron is a convex cell around the origin, stored as face loops.
type polyhedron struct {
	faces []face
}

func newCube(h float64) *polyhedron {
	v := func(x, y, z float64) common.Vec3 { return common.Vec3{x * h, y * h, z * h} }
	loops := [][]common.Vec3{
		{v(1, -1, -1), v(1, 1, -1), v(1, 1, 1), v(1, -1, 1)},
		{v(-1, -1, -1), v(-1, -1, 1), v(-1, 1, 1), v(-1, 1, -1)},
		{v(-1, 1, -1), v(-1, 1, 1), v(1, 1, 1), v(1, 1, -1)},
		{v(-1, -1, -1), v(1, -1, -1), v(1, -1, 1), v(-1, -1, 1)},
		{v(-1, -1, 1), v(1, -1, 1), v(1, 1, 1), v(-1, 1, 1)},
		{v(-1, -1, -1), v(-1, 1, -1), v(1, 1, -1), v(1, -1, -1)},
	}
	p := &polyhedron{}
	for _, l := range loops {
		p.faces = append(p.faces, face{owner: boxOwner, verts: l})
	}
	return p
}

// radius is the distance from the origin to the farthest vertex.
func (p *polyhedron) radius() float64 {
	r := 0.0
	for _, fc := range p.faces {
		for _, v := range fc.verts {
			r = math.Max(r, v.Norm())
		}
	}
	return r
}

// clip keeps the half-space x·n <= d and closes the cut with a face owned by owner.
func (p *polyhedron) clip(n common.Vec3, d float64, owner int) {
	outside := false
	for _, fc := range p.faces {
		for _, v := range fc.verts {
			if v.Dot(n)-d > planeTol {
				outside = true
				break
			}
		}
		if outside {
			break
		}
	}
	if !outside {
		return
	}

	var kept []face
	var cut []common.Vec3
	for _, fc := range p.faces {
		var loop []common.Vec3
		m := len(fc.verts)
		for i := 0; i < m; i++ {
			a, b := fc.verts[i], fc.verts[(i+1)%m]
			da, db := a.Dot(n)-d, b.Dot(n)-d
			ain, bin := da <= planeTol, db <= planeTol
			if ain {
				loop = append(loop, a)
				if da >= -planeTol {
					cut = append(cut, a)
				}
			}
			if ain != bin {
				// interpolate from the inside end so both faces sharing the edge agree
				in, out, din, dout := a, b, da, db
				if !ain {
					in, out, din, dout = b, a, db, da
				}
				x := in.Add(out.Sub(in).Scale(din / (din - dout)))
				loop = append(loop, x)
				cut = append(cut, x)
			}
		}
		loop = dedupeLoop(loop)
		if len(loop) >= 3 {
			kept = append(kept, face{owner: fc.owner, verts: loop})
		}
	}

	if lid := orderOnPlane(unique(cut), n); len(lid) >= 3 {
		kept = append(kept, face{owner: owner, verts: lid})
	}
	p.faces = kept
}

func near(a, b common.Vec3) bool {
	return a.Sub(b).Norm() <= mergeTol
}

func dedupeLoop(loop []common.Vec3) []common.Vec3 {
	var out []common.Vec3
	for _, v := range loop {
		if len(out) > 0 && near(out[len(out)-1], v) {
			continue
		}
		out = append(out, v)
	}
	for len(out) > 1 && near(out[0], out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}

func unique(pts []common.Vec3) []common.Vec3 {
	var out []common.Vec3
	for _, v := range pts {
		dup := false
		for _, u := range out {
			if near(u, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// orderOnPlane sorts coplanar points by angle around their centroid.
func orderOnPlane(pts []common.Vec3, n common.Vec3) []common.Vec3 {
	if len(pts) < 3 {
		return pts
	}
	var c common.Vec3
	for _, v := range pts {
		c = c.Add(v)
	}
	c = c.Scale(1 / float64(len(pts)))

	// in-plane basis built from the axis least aligned with n
	k := 0
	for i := 1; i < 3; i++ {
		if math.Abs(n[i]) < math.Abs(n[k]) {
			k = i
		}
	}
	var axis common.Vec3
	axis[k] = 1
	u := n.Cross(axis)
	u = u.Scale(1 / u.Norm())
	w := n.Cross(u)
	w = w.Scale(1 / w.Norm())

	angle := make(map[int]float64, len(pts))
	idx := make([]int, len(pts))
	for i, v := range pts {
		r := v.Sub(c)
		angle[i] = math.Atan2(r.Dot(w), r.Dot(u))
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return angle[idx[i]] < angle[idx[j]] })
	out := make([]common.Vec3, len(pts))
	for i, k := range idx {
		out[i] = pts[k]
	}
	return out
}
