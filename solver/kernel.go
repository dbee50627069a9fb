package solver

import "math"

// SolvePoints computes velocity deltas for points [start, end) of a dispatch.
//
// Each point sums, over its incident springs, a Hookean term
// k*(length-rest) and a damping term c*((vj-vi)·n) along the spring axis n,
// then adds a pull back toward its initial position that grows with distance
// up to MaxReturnDistance. The summed force (unit mass) times DT is the delta;
// deltas shorter than VelocityGate are dropped. Static points get zero.
//
// Every point writes only out[i], so disjoint ranges may run concurrently.
func SolvePoints(t *Topology, p *Params, in []PointInput, out []PointResult, start, end int) {
	k := p.SpringConstant
	c := p.Damping
	gateSq := p.VelocityGate * p.VelocityGate

	for i := start; i < end; i++ {
		if t.Static[i] != 0 {
			out[i] = PointResult{}
			continue
		}
		pi := in[i]
		var fx, fy float32

		for _, si := range t.Incident[t.Offsets[i]:t.Offsets[i+1]] {
			sp := t.Springs[si]
			j := sp.First
			if j == int32(i) {
				j = sp.Second
			}
			pj := in[j]

			dx := pj.PosX - pi.PosX
			dy := pj.PosY - pi.PosY
			l := float32(math.Sqrt(float64(dx*dx + dy*dy)))
			if l == 0 {
				continue
			}
			nx, ny := dx/l, dy/l

			relVel := (pj.VelX-pi.VelX)*nx + (pj.VelY-pi.VelY)*ny
			f := k*(l-sp.RestLength) + c*relVel
			fx += f * nx
			fy += f * ny
		}

		if p.ReturnForce != 0 {
			init := t.Persistent[i]
			rx := init.InitX - pi.PosX
			ry := init.InitY - pi.PosY
			d := float32(math.Sqrt(float64(rx*rx + ry*ry)))
			if d > 0 {
				pull := p.ReturnForce * min(d, p.MaxReturnDistance)
				fx += pull * rx / d
				fy += pull * ry / d
			}
		}

		dvx, dvy := fx*p.DT, fy*p.DT
		if dvx*dvx+dvy*dvy < gateSq {
			dvx, dvy = 0, 0
		}
		out[i] = PointResult{DVX: dvx, DVY: dvy}
	}
}
