package imds

import "testing"

func TestShapeConfigCapacityScaleHint(t *testing.T) {
	cases := []struct {
		name  string
		shape ShapeConfig
		want  float64
	}{
		{"full shape", ShapeConfig{OCPUs: 4}, 1},
		{"eighth baseline", ShapeConfig{OCPUs: 1, BaselineOCPUUtilization: "BASELINE_1_8"}, 0.125},
		{"half baseline", ShapeConfig{OCPUs: 2, BaselineOCPUUtilization: "BASELINE_1_2"}, 0.5},
		{"zero ocpus", ShapeConfig{BaselineOCPUUtilization: "BASELINE_1_8"}, 1},
	}

	for _, tc := range cases {
		if got := tc.shape.CapacityScaleHint(); got != tc.want {
			t.Errorf("%s: CapacityScaleHint() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
