package logging

import (
	"log/slog"
	"path/filepath"

	"voiceloom/internal/config"
)

// NewFromConfig builds the daemon logger from the loaded configuration.
// Output goes to stdout plus a rotating file location under the configured
// log directory when one is set.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "voiceloom.log"))
	}
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}
