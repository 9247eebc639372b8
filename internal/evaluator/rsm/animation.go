package rsm

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vat/pkg/formats"
)

// keySpan finds the keys surrounding timeMs in a frame-sorted key list and
// the blend factor between them. prev == next means clamp to that key.
func keySpan(n int, frame func(int) int32, timeMs float32) (prev, next int, t float32) {
	for i := 0; i < n; i++ {
		if float32(frame(i)) > timeMs {
			next = i
			break
		}
		prev = i
		next = i
	}
	if prev == next {
		return prev, next, 0
	}
	f0, f1 := frame(prev), frame(next)
	if f1 != f0 {
		t = (timeMs - float32(f0)) / float32(f1-f0)
	}
	return prev, next, t
}

func toQuat(q [4]float32) mgl32.Quat {
	return mgl32.Quat{W: q[3], V: mgl32.Vec3{q[0], q[1], q[2]}}
}

// interpolateRotKeys slerps rotation keyframes at timeMs.
func interpolateRotKeys(keys []formats.RSMRotKeyframe, timeMs float32) mgl32.Quat {
	switch len(keys) {
	case 0:
		return mgl32.QuatIdent()
	case 1:
		return toQuat(keys[0].Quaternion).Normalize()
	}

	prev, next, t := keySpan(len(keys), func(i int) int32 { return keys[i].Frame }, timeMs)
	q0 := toQuat(keys[prev].Quaternion).Normalize()
	if prev == next {
		return q0
	}
	q1 := toQuat(keys[next].Quaternion).Normalize()
	// Take the short way around.
	if q0.Dot(q1) < 0 {
		q1 = q1.Scale(-1)
	}
	return mgl32.QuatSlerp(q0, q1, t)
}

// interpolateScaleKeys lerps scale keyframes at timeMs.
func interpolateScaleKeys(keys []formats.RSMScaleKeyframe, timeMs float32) mgl32.Vec3 {
	switch len(keys) {
	case 0:
		return mgl32.Vec3{1, 1, 1}
	case 1:
		return keys[0].Scale
	}

	prev, next, t := keySpan(len(keys), func(i int) int32 { return keys[i].Frame }, timeMs)
	return lerpVec3(keys[prev].Scale, keys[next].Scale, t)
}

// interpolatePosKeys lerps position keyframes at timeMs.
func interpolatePosKeys(keys []formats.RSMPosKeyframe, timeMs float32) mgl32.Vec3 {
	if len(keys) == 1 {
		return keys[0].Position
	}
	prev, next, t := keySpan(len(keys), func(i int) int32 { return keys[i].Frame }, timeMs)
	return lerpVec3(keys[prev].Position, keys[next].Position, t)
}

func lerpVec3(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
