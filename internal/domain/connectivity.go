package domain

import "time"

// ConnectivityMode is the data source the core currently targets.
type ConnectivityMode string

const (
	ModeConnecting    ConnectivityMode = "CONNECTING"
	ModeRemote        ConnectivityMode = "REMOTE"
	ModeLocalFallback ConnectivityMode = "LOCAL_FALLBACK"
)

// ConnectivityState is the process-wide backend mode.
type ConnectivityState struct {
	Mode        ConnectivityMode
	LastCheckAt time.Time
	LastError   string
}

// HealthReport is what the remote backend returns from its health endpoint.
type HealthReport struct {
	Status   string
	Database string
	Redis    string
}
