// Package fov decides whether a robot's own body clogs the field of view of
// a camera.
//
// Features (visual markers with a physical size) are grouped into feature
// groups carrying a visibility threshold, a depth margin and a size margin.
// For every feature the engine builds an occlusion test volume, two
// tetrahedra spanning from the sensor origin to the feature footprint, and
// tests it against the robot collision solids supplied by the owning
// Context. A group is usable while at least VisibilityThreshold of its
// features stay unoccluded; the field of view is clogged when any registered
// group is not usable.
//
// A FieldOfView is a synchronous query engine with no internal locking.
// Use one instance per goroutine; parallel path validators build one engine
// per worker.
package fov
