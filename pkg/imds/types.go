package imds

// DefaultEndpoint is the well-known link-local address of the OCI Instance
// Metadata Service, v2.
const DefaultEndpoint = "http://169.254.169.254/opc/v2"

// ShapeConfig describes the compute shape of the running instance, as
// reported by the metadata service's shape-config resource. cmd/edfsimd
// uses OCPUs to size a domain's SCHED_CAPACITY_SCALE total when the host
// topology file doesn't already account for the instance's actual OCPU
// count (spec.md §4.5's admission_control runs against whatever capacity
// the domain reports, burstable shapes included).
type ShapeConfig struct {
	OCPUs                     float64 `json:"ocpus"`
	BaselineOCPUUtilization   string  `json:"baselineOcpuUtilization"`
	BaselineOCPUs             float64 `json:"baselineOcpus"`
	MemoryInGBs               float64 `json:"memoryInGBs"`
	ThreadsPerCore            int     `json:"threadsPerCore"`
	NetworkingBandwidthInGbps float64 `json:"networkingBandwidthInGbps"`
	MaxVnicAttachments        int     `json:"maxVnicAttachments"`
}

// CapacityScaleHint converts a burstable shape's baseline OCPU ratio into a
// multiplier on SCHED_CAPACITY_SCALE: BASELINE_1_8 shapes (common on
// flexible E-series VMs) only guarantee a fraction of a full OCPU outside
// bursting windows, so a domain built from BaselineOCPUs rather than OCPUs
// avoids admitting deadline bandwidth the host can't sustain once a burst
// credit is exhausted.
func (s ShapeConfig) CapacityScaleHint() float64 {
	if s.OCPUs <= 0 {
		return 1
	}

	switch s.BaselineOCPUUtilization {
	case "BASELINE_1_8":
		return 0.125
	case "BASELINE_1_2":
		return 0.5
	default:
		return 1
	}
}
