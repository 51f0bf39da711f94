package telemetry

// Provider returns the most recent telemetry snapshot
type Provider interface {
	Get() *Telemetry
}
