package app

// ServiceName identifies the service in logs, metrics and health checks.
const ServiceName = "resource-service"

// Build-time injection variables
// These are set via -ldflags during build:
//
//	go build -ldflags="-X 'resource-service/internal/app.Version=1.0.0'"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
