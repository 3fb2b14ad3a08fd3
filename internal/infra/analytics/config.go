package analytics

import (
	"os"

	"github.com/Landlord-Docs/landlord-backend/pkg/env"
)

type AnalyticsConfig struct {
	Endpoint      string
	MeasurementID string
	APISecret     string
}

func NewAnalyticsConfig() *AnalyticsConfig {
	return &AnalyticsConfig{
		Endpoint:      env.GetEnv("GA_ENDPOINT", "https://www.google-analytics.com/mp/collect"),
		MeasurementID: os.Getenv("GA_MEASUREMENT_ID"),
		APISecret:     os.Getenv("GA_API_SECRET"),
	}
}
