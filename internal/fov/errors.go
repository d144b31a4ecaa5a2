package fov

import "errors"

var (
	// ErrInvalidArgument marks malformed features, groups or registrations.
	// It is a caller error and is never retried.
	ErrInvalidArgument = errors.New("fov: invalid argument")

	// ErrGeometryQuery marks failures of the owning context or of the
	// collision backend. Occlusion results are meaningless without valid
	// geometry, so no partial answer accompanies it.
	ErrGeometryQuery = errors.New("fov: geometry query failed")
)
