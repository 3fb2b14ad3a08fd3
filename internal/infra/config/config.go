package config

import (
	"github.com/Landlord-Docs/landlord-backend/pkg/env"
)

type FulfillConfig struct {
	DocumentPrefix string
	DashboardURL   string
	SupportURL     string
	BaseDomain     string
}

func NewFulfillConfig() *FulfillConfig {
	return &FulfillConfig{
		DocumentPrefix: env.GetEnv("F_DOCUMENT_PREFIX", "documents/"),
		DashboardURL:   env.GetEnv("F_DASHBOARD_URL", "https://app.landlorddocs.co.uk/dashboard"),
		SupportURL:     env.GetEnv("F_SUPPORT_URL", "https://app.landlorddocs.co.uk/support"),
		BaseDomain:     env.GetEnv("F_BASE_DOMAIN", "http://localhost:3000"),
	}
}
