//go:build !linux

package governor

import "context"

type unsupportedSchedAttrApplier struct{}

// NewSchedAttrApplier returns an applier that always reports ErrUnsupported.
func NewSchedAttrApplier() SchedAttrApplier {
	return unsupportedSchedAttrApplier{}
}

func (unsupportedSchedAttrApplier) Apply(context.Context, int, uint64, uint64, uint64) error {
	return ErrUnsupported
}
