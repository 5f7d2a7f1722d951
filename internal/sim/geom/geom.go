// Package geom holds the small amount of spatial math the table needs:
// positions, rotations, rigid transforms and oriented scan volumes.
package geom

import "math"

type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Abs() Vec3            { return Vec3{math.Abs(a.X), math.Abs(a.Y), math.Abs(a.Z)} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64         { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

// Mid returns the point halfway between a and b.
func Mid(a, b Vec3) Vec3 { return a.Add(b).Scale(0.5) }

// ApproxEqual compares component-wise within eps.
func (a Vec3) ApproxEqual(b Vec3, eps float64) bool {
	d := a.Sub(b).Abs()
	return d.X <= eps && d.Y <= eps && d.Z <= eps
}

func (a Vec3) Array() [3]float64 { return [3]float64{a.X, a.Y, a.Z} }

// Quat is a unit quaternion. The zero value is treated as identity.
type Quat struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

func Identity() Quat { return Quat{W: 1} }

func (q Quat) norm() Quat {
	if q == (Quat{}) {
		return Identity()
	}
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return Identity()
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// YawDeg returns a rotation of deg degrees around the vertical axis.
func YawDeg(deg float64) Quat {
	r := deg * math.Pi / 180 / 2
	return Quat{Y: math.Sin(r), W: math.Cos(r)}
}

// Yaw extracts the rotation around the vertical axis in degrees.
func (q Quat) Yaw() float64 {
	q = q.norm()
	siny := 2 * (q.W*q.Y + q.X*q.Z)
	cosy := 1 - 2*(q.Y*q.Y+q.X*q.X)
	return math.Atan2(siny, cosy) * 180 / math.Pi
}

func (q Quat) Mul(r Quat) Quat {
	q, r = q.norm(), r.norm()
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

func (q Quat) Inverse() Quat {
	q = q.norm()
	return Quat{-q.X, -q.Y, -q.Z, q.W}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	q = q.norm()
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Right is the local +X axis expressed in world space.
func (q Quat) Right() Vec3 { return q.Rotate(Vec3{X: 1}) }

type Transform struct {
	Pos Vec3 `json:"pos" yaml:"pos"`
	Rot Quat `json:"rot" yaml:"rot"`
}

func At(p Vec3) Transform { return Transform{Pos: p, Rot: Identity()} }

// ToLocal expresses a world-space point in t's frame.
func (t Transform) ToLocal(p Vec3) Vec3 { return t.Rot.Inverse().Rotate(p.Sub(t.Pos)) }

// ToWorld expresses a t-local point in world space.
func (t Transform) ToWorld(p Vec3) Vec3 { return t.Rot.Rotate(p).Add(t.Pos) }

// Box is an oriented box volume centred on Center with full extents Size.
type Box struct {
	Center Transform `json:"center" yaml:"center"`
	Size   Vec3      `json:"size" yaml:"size"`
}

func (b Box) Contains(p Vec3) bool {
	l := b.Center.ToLocal(p).Abs()
	h := b.Size.Abs().Scale(0.5)
	const eps = 1e-9
	return l.X <= h.X+eps && l.Y <= h.Y+eps && l.Z <= h.Z+eps
}
