package kernel

// Version constants for the kernel model schema and the engine.
const (
	// ModelVersion is the kernel model schema version.
	ModelVersion = "1"

	// EngineVersion is the loopline engine version.
	EngineVersion = "0.1.0"
)
