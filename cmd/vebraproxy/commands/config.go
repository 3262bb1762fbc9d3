package commands

import (
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/vebra-proxy/internal/app"
)

// loadConfig loads application configuration with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	return app.LoadConfig(cmd.String("config"), extractAndTransformFlags(cmd), environFunc)
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --server--host → server.host, --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}
		// The config path selects a source, it is not a setting
		if name == "config" {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
