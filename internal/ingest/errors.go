package ingest

import "errors"

var (
	ErrFloorNotFound      = errors.New("floor not found")
	ErrCapacityExceeded   = errors.New("floor is at capacity")
	ErrCapacityUnderflow  = errors.New("floor has no vehicles to remove")
	ErrInvalidDirection   = errors.New("direction must be entry or exit")
	ErrInvalidVehicleType = errors.New("unsupported vehicle type")
)
