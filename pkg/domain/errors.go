package domain

import "errors"

// ErrWouldExceedCapacity is returned by ReserveBW when admitting a
// bandwidth delta would push the domain's total past its capacity (§4.5).
var ErrWouldExceedCapacity = errors.New("domain: reservation would exceed capacity")
