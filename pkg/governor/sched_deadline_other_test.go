//go:build !linux

package governor

import (
	"context"
	"errors"
	"testing"
)

func TestUnsupportedApplierReportsError(t *testing.T) {
	applier := NewSchedAttrApplier()

	err := applier.Apply(context.Background(), 1, 0, 0, 0)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Apply() = %v, want ErrUnsupported", err)
	}
}
