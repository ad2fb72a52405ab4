package lookaside

import "github.com/meigma/lookaside/manifest"

// AddOption configures an Add operation.
type AddOption func(*addConfig)

type addConfig struct {
	visibility manifest.Visibility
	unpack     bool
	setup      string
}

// AddWithVisibility sets the visibility of the new records.
func AddWithVisibility(v manifest.Visibility) AddOption {
	return func(cfg *addConfig) {
		cfg.visibility = v
	}
}

// AddWithUnpack marks the new records as archives to extract after fetch.
func AddWithUnpack(unpack bool) AddOption {
	return func(cfg *addConfig) {
		cfg.unpack = unpack
	}
}

// AddWithSetup names a command to run inside the extracted directory.
func AddWithSetup(command string) AddOption {
	return func(cfg *addConfig) {
		cfg.setup = command
	}
}
