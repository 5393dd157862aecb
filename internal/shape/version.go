package shape

// Version constants stamped on persisted artifacts.
const (
	// ArtifactFormat is the on-disk program format version.
	ArtifactFormat = "1"

	// EngineVersion is the dispatcher/compiler version.
	EngineVersion = "0.1.0"
)
