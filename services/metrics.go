package services

import (
	"context"
	"time"
)

// Metrics is the part of the CloudWatch client the services report to.
type Metrics interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

const serviceDimension = "checkout-service"

// recordCount reports asynchronously so a slow metrics backend never delays a request.
func recordCount(ctx context.Context, m Metrics, name string, dims map[string]string) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = m.RecordCount(ctx, name, withService(dims))
	}()
}

func recordLatency(ctx context.Context, m Metrics, name string, d time.Duration) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = m.RecordLatency(ctx, name, d, withService(nil))
	}()
}

func withService(dims map[string]string) map[string]string {
	out := map[string]string{"Service": serviceDimension}
	for k, v := range dims {
		out[k] = v
	}
	return out
}
