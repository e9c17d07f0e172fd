package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inletio/inlet/pkg/errors"
)

// Load reads a YAML file into config, expanding ${VAR} references from
// the environment before parsing. Unset variables expand to the empty
// string.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the CLI flag
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", filePath)
	}

	expanded := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
			WithDetail("path", filePath)
	}
	return nil
}

// Save writes config to a YAML file.
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to serialize config")
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", filePath)
	}
	return nil
}

// substituteEnvVars expands each ${NAME} occurrence to the value of the
// NAME environment variable. Unterminated references pass through as-is.
func substituteEnvVars(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : start+end]))
		content = content[start+end+1:]
	}
	b.WriteString(content)
	return b.String()
}
