package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Pose is a rigid transform stored as a row-major 4x4 matrix:
// m00,m01,m02,m03, m10,... The rotation block maps frame axes to the parent
// frame and the last column holds the translation.
type Pose [16]float64

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation.
func Translation(x, y, z float64) Pose {
	p := Identity()
	p[3], p[7], p[11] = x, y, z
	return p
}

// FromRotation builds a pose from a rotation and a translation.
func FromRotation(rot r3.Rotation, t r3.Vec) Pose {
	m := rot.Mat()
	return Pose{
		m.At(0, 0), m.At(0, 1), m.At(0, 2), t.X,
		m.At(1, 0), m.At(1, 1), m.At(1, 2), t.Y,
		m.At(2, 0), m.At(2, 1), m.At(2, 2), t.Z,
		0, 0, 0, 1,
	}
}

// FromRPY builds a pose from roll, pitch, yaw (radians, applied about fixed
// X, Y then Z axes) and a translation.
func FromRPY(roll, pitch, yaw float64, t r3.Vec) Pose {
	qx := quat.Number(r3.NewRotation(roll, r3.Vec{X: 1}))
	qy := quat.Number(r3.NewRotation(pitch, r3.Vec{Y: 1}))
	qz := quat.Number(r3.NewRotation(yaw, r3.Vec{Z: 1}))
	return FromRotation(r3.Rotation(quat.Mul(qz, quat.Mul(qy, qx))), t)
}

// Position returns the translation part.
func (p Pose) Position() r3.Vec {
	return r3.Vec{X: p[3], Y: p[7], Z: p[11]}
}

// Axis returns column i (0=X, 1=Y, 2=Z) of the rotation block, i.e. the
// frame axis expressed in the parent frame.
func (p Pose) Axis(i int) r3.Vec {
	return r3.Vec{X: p[i], Y: p[4+i], Z: p[8+i]}
}

// RotationMat returns the rotation block as a gonum 3x3 matrix.
func (p Pose) RotationMat() *r3.Mat {
	return r3.NewMat([]float64{
		p[0], p[1], p[2],
		p[4], p[5], p[6],
		p[8], p[9], p[10],
	})
}

// Apply maps a point from the pose frame to the parent frame.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: p[0]*v.X + p[1]*v.Y + p[2]*v.Z + p[3],
		Y: p[4]*v.X + p[5]*v.Y + p[6]*v.Z + p[7],
		Z: p[8]*v.X + p[9]*v.Y + p[10]*v.Z + p[11],
	}
}

// Rotate maps a direction from the pose frame to the parent frame.
func (p Pose) Rotate(v r3.Vec) r3.Vec {
	return p.RotationMat().MulVec(v)
}

// RotateInverse maps a direction from the parent frame to the pose frame.
func (p Pose) RotateInverse(v r3.Vec) r3.Vec {
	return p.RotationMat().MulVecTrans(v)
}

// Compose returns p * q: q expressed in p's parent frame.
func (p Pose) Compose(q Pose) Pose {
	var out Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += p[r*4+k] * q[k*4+c]
			}
			out[r*4+c] = sum
		}
	}
	return out
}

// Inverse returns the inverse of a rigid transform.
func (p Pose) Inverse() Pose {
	t := p.Position()
	rt := p.RotateInverse(t)
	return Pose{
		p[0], p[4], p[8], -rt.X,
		p[1], p[5], p[9], -rt.Y,
		p[2], p[6], p[10], -rt.Z,
		0, 0, 0, 1,
	}
}

// Rotation returns the rotation block as a unit quaternion.
func (p Pose) Rotation() r3.Rotation {
	m00, m01, m02 := p[0], p[1], p[2]
	m10, m11, m12 := p[4], p[5], p[6]
	m20, m21, m22 := p[8], p[9], p[10]

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return r3.Rotation(quat.Scale(1/quat.Abs(q), q))
}

// Interpolate returns the pose at parameter t in [0,1] between p and q:
// linear in translation, spherical in rotation.
func Interpolate(p, q Pose, t float64) Pose {
	q0 := quat.Number(p.Rotation())
	q1 := quat.Number(q.Rotation())
	if q0.Real*q1.Real+q0.Imag*q1.Imag+q0.Jmag*q1.Jmag+q0.Kmag*q1.Kmag < 0 {
		q1 = quat.Scale(-1, q1)
	}
	d := quat.PowReal(quat.Mul(q1, quat.Inv(q0)), t)
	rot := r3.Rotation(quat.Mul(d, q0))

	a, b := p.Position(), q.Position()
	return FromRotation(rot, r3.Add(a, r3.Scale(t, r3.Sub(b, a))))
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix with det ≈ 1
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T Pose) bool {
	for _, v := range T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Proper rotation, not reflection
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	for i := 0; i < 3; i++ {
		if math.Abs(r3.Norm(T.Axis(i))-1.0) > MatrixValidationTolerance {
			return false
		}
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
