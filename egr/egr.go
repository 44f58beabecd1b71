// Package egr holds application-wide constants and the error taxonomy shared by
// the retrieval pipeline, the stores and the HTTP surface.
package egr

const (
	DefaultAppName    = "egr"
	DefaultConfigName = "config"
	DefaultConfigType = "yaml"
	DefaultConfigPath = "$HOME/.config/egr"
	DefaultEnvPrefix  = "EGR"

	Version = "0.1.0"
)

// Source tags recorded on every persisted turn.
const (
	SourceStructured = "structured"
	SourceSemantic   = "semantic"
	SourceRefusal    = "refusal"
)
