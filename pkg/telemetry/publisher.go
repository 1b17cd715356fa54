// Package telemetry publishes scheduler signals (running bandwidth,
// throttle events, util_avg) to OCI Monitoring, wrapped in a circuit breaker
// so a misbehaving telemetry backend never backs pressure onto the
// scheduling tick loop.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
	"github.com/sony/gobreaker"
)

const (
	monitoringNamespace = "dlsched"
	breakerName         = "oci-monitoring-publisher"
)

var (
	errMissingCompartmentID = errors.New("telemetry: compartment ID is required")
	errMissingMetricsClient = errors.New("telemetry: metrics client is required")
	errNilClient            = errors.New("telemetry: publisher receiver is nil")

	// ErrBreakerOpen is returned (wrapped) while the circuit breaker is open,
	// so callers can choose to drop a sample rather than block the tick loop.
	ErrBreakerOpen = gobreaker.ErrOpenState
)

// Sample is one scheduler signal observation for one domain member CPU.
type Sample struct {
	CPU       int
	Name      string // e.g. "running_bw", "util_avg", "throttle_rate"
	Value     float64
	Timestamp time.Time
}

type metricsClient interface {
	PostMetricData(
		ctx context.Context,
		request monitoring.PostMetricDataRequest,
	) (monitoring.PostMetricDataResponse, error)
}

// Publisher posts Samples to OCI Monitoring through a circuit breaker.
type Publisher struct {
	metrics       metricsClient
	compartmentID string
	resourceID    string
	breaker       *gobreaker.CircuitBreaker
	now           func() time.Time
}

// NewInstancePrincipalPublisher constructs a Publisher backed by the OCI Go
// SDK using instance principal authentication, for a given compartment and
// resource (the simulated host/domain identity attached to each datapoint).
func NewInstancePrincipalPublisher(compartmentID, resourceID string) (*Publisher, error) {
	if compartmentID == "" {
		return nil, errMissingCompartmentID
	}

	provider, err := auth.InstancePrincipalConfigurationProvider()
	if err != nil {
		return nil, fmt.Errorf("build instance principal provider: %w", err)
	}

	monitoringClient, err := monitoring.NewMonitoringClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("create monitoring client: %w", err)
	}

	return newPublisher(&sdkMonitoringClient{client: &monitoringClient}, compartmentID, resourceID, time.Now)
}

func newPublisher(
	metrics metricsClient,
	compartmentID, resourceID string,
	clock func() time.Time,
) (*Publisher, error) {
	if metrics == nil {
		return nil, errMissingMetricsClient
	}

	if compartmentID == "" {
		return nil, errMissingCompartmentID
	}

	if clock == nil {
		clock = time.Now
	}

	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Publisher{
		metrics:       metrics,
		compartmentID: compartmentID,
		resourceID:    resourceID,
		breaker:       gobreaker.NewCircuitBreaker(settings),
		now:           clock,
	}, nil
}

// Publish posts one batch of Samples, tagging each with the publisher's
// resource id. Breaker-open and transport errors are both returned wrapped;
// callers on the tick loop should treat any error as "drop this batch, try
// again next tick" rather than retrying synchronously.
func (p *Publisher) Publish(ctx context.Context, samples []Sample) error {
	if p == nil {
		return errNilClient
	}

	if len(samples) == 0 {
		return nil
	}

	request := p.buildPostRequest(samples)

	_, err := p.breaker.Execute(func() (any, error) {
		_, postErr := p.metrics.PostMetricData(ctx, request)
		if postErr != nil {
			return nil, fmt.Errorf("post metric data: %w", postErr)
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("publish samples: %w", err)
	}

	return nil
}

func (p *Publisher) buildPostRequest(samples []Sample) monitoring.PostMetricDataRequest {
	items := make([]monitoring.MetricDataDetails, 0, len(samples))

	for i := range samples {
		s := samples[i]

		namespace := monitoringNamespace
		name := s.Name
		resourceID := p.resourceID
		timestamp := common.SDKTime{Time: s.Timestamp}

		items = append(items, monitoring.MetricDataDetails{
			Namespace:    &namespace,
			CompartmentId: &p.compartmentID,
			Name:         &name,
			Dimensions:   map[string]string{"resourceId": resourceID},
			Datapoints: []monitoring.Datapoint{
				{Timestamp: &timestamp, Value: &s.Value},
			},
		})
	}

	var details monitoring.PostMetricDataDetails
	details.MetricData = items

	var request monitoring.PostMetricDataRequest
	request.PostMetricDataDetails = details

	return request
}

// newTestPublisher exposes the constructor hooks for unit tests.
func newTestPublisher(
	metrics metricsClient,
	compartmentID, resourceID string,
	clock func() time.Time,
) (*Publisher, error) {
	return newPublisher(metrics, compartmentID, resourceID, clock)
}

type sdkMonitoringClient struct {
	client *monitoring.MonitoringClient
}

func (s *sdkMonitoringClient) PostMetricData(
	ctx context.Context,
	request monitoring.PostMetricDataRequest,
) (monitoring.PostMetricDataResponse, error) {
	httpRequest, err := request.HTTPRequest(
		"POST",
		"/metrics",
		nil,
		nil,
	)
	if err != nil {
		return monitoring.PostMetricDataResponse{}, fmt.Errorf("build post metric data request: %w", err)
	}

	httpResponse, err := s.client.Call(ctx, &httpRequest)

	if httpResponse != nil {
		defer func() {
			common.CloseBodyIfValid(httpResponse)
		}()
	}

	var response monitoring.PostMetricDataResponse

	response.RawResponse = httpResponse

	if err != nil {
		apiReferenceLink := "https://docs.oracle.com/iaas/api/#/en/monitoring/20180401/MetricDataDetails/PostMetricData"
		wrapped := common.PostProcessServiceError(
			err,
			"Monitoring",
			"PostMetricData",
			apiReferenceLink,
		)

		return response, fmt.Errorf("execute post metric data request: %w", wrapped)
	}

	err = common.UnmarshalResponse(httpResponse, &response)
	if err != nil {
		return response, fmt.Errorf("decode post metric data response: %w", err)
	}

	return response, nil
}
