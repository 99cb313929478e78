package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax so literal $ characters in keyword phrases,
// passwords and URLs pass through untouched.
//
// Examples:
//   - {{.WAHA_BASE_URL}} → value of WAHA_BASE_URL
//   - {{.REDIS_HOST}}:{{.REDIS_PORT}} → host:port with both variables expanded
//   - "save $20 now" → preserved literally
//
// Missing variables expand to empty string. Content that fails to parse
// as a template is returned unchanged.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("omnidesk").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
