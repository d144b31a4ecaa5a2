// Package geometry owns the collision primitives used by the field-of-view
// engine.
//
// Responsibilities: rigid poses (row-major 4x4), convex solids described by
// their support mapping, axis-aligned bounds for broad-phase rejection, and
// the GJK boolean intersection test between two convex solids.
// Key types: Pose, Convex, Tetrahedron, Box, Sphere, Capsule, Hull, Placed, GJK.
//
// Coordinates are metres in the world frame unless a type says otherwise.
// Vectors are gonum r3.Vec values.
package geometry
