// Package admission applies the deadline class's parameter-change
// admission rule (§4.5): a task's requested bandwidth is rejected if it
// would push its scheduling domain over capacity, with SUGOV entities
// bypassing the check entirely.
package admission

import (
	"errors"
	"fmt"

	"dlsched/pkg/deadline"
	"dlsched/pkg/domain"
)

// ErrBusy mirrors the core's Busy error (§7): admission would exceed
// capacity, and no accumulator state changes.
var ErrBusy = deadline.ErrBusy

// Request describes a parameter-change admission request. RTBandwidth is
// optional; when set, the combined RT+DL check (§4.1's shared accumulator,
// §4.5/§6's sysctls) runs alongside the domain capacity check.
type Request struct {
	Params      deadline.Params
	SUGOV       bool
	RTBandwidth *SharedRTBandwidth
}

// Admit validates params and, unless bypassed, reserves the new bandwidth
// against d. On success it returns the reserved Q20 bandwidth so the caller
// can later release exactly that amount via Release. On any failure, no
// domain state is changed.
func Admit(d *domain.Domain, bounds deadline.PeriodBounds, req Request) (int64, error) {
	if err := req.Params.Validate(bounds); err != nil {
		return 0, err
	}

	bw := req.Params.BW()

	if req.SUGOV {
		return bw, nil
	}

	if err := req.RTBandwidth.CheckCombined(bw, d.Capacity()); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBusy, err)
	}

	if err := d.ReserveBW(bw); err != nil {
		if errors.Is(err, domain.ErrWouldExceedCapacity) {
			return 0, fmt.Errorf("%w: %w", ErrBusy, err)
		}

		return 0, err
	}

	return bw, nil
}

// Release returns a previously admitted bandwidth reservation to d. Callers
// that admitted with SUGOV=true must not call Release, since SUGOV never
// reserved domain capacity.
func Release(d *domain.Domain, bw int64) {
	d.ReleaseBW(bw)
}

// Reparent moves an admitted reservation from one domain to another, as
// needed when a cpuset attach changes a task's domain span. It reserves bw
// on to first and then releases it from from; each step takes only that
// domain's own lock, so the move is not atomic across the two domains and
// bw is counted in both between the two steps. If the destination would
// exceed capacity, the source is left untouched and ErrBusy is returned.
func Reparent(from, to *domain.Domain, bw int64) error {
	if err := to.ReserveBW(bw); err != nil {
		if errors.Is(err, domain.ErrWouldExceedCapacity) {
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}

		return err
	}

	from.ReleaseBW(bw)

	return nil
}
