package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "base_url: {{.WAHA_BASE_URL}}",
			env:   map[string]string{"WAHA_BASE_URL": "http://waha:3000"},
			want:  "base_url: http://waha:3000",
		},
		{
			name:  "shell syntax is not expanded",
			input: "addr: ${REDIS_ADDR}",
			env:   map[string]string{"REDIS_ADDR": "redis:6379"},
			want:  "addr: ${REDIS_ADDR}",
		},
		{
			name:  "multiple substitutions in one line",
			input: "addr: {{.HOST}}:{{.PORT}}",
			env:   map[string]string{"HOST": "redis", "PORT": "6379"},
			want:  "addr: redis:6379",
		},
		{
			name:  "missing variable expands to empty",
			input: "address: {{.RESPONDER_ADDR_UNSET}}",
			want:  "address: ",
		},
		{
			name:  "dollar inside keyword phrase preserved",
			input: `- "charged $99 twice"`,
			want:  `- "charged $99 twice"`,
		},
		{
			name:  "value containing equals sign",
			input: "dsn: {{.DSN}}",
			env:   map[string]string{"DSN": "a=b c=d"},
			want:  "dsn: a=b c=d",
		},
		{
			name:  "malformed template returned unchanged",
			input: "broken: {{.UNCLOSED",
			want:  "broken: {{.UNCLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvThenParseYAML(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "kafka:9092")

	input := "events:\n  backend: kafka\n  kafka:\n    brokers:\n      - {{.KAFKA_BROKER}}\n"

	var parsed OmnideskYAMLConfig
	require.NoError(t, yaml.Unmarshal(ExpandEnv([]byte(input)), &parsed))
	require.NotNil(t, parsed.Events)
	assert.Equal(t, EventBackendKafka, parsed.Events.Backend)
	assert.Equal(t, []string{"kafka:9092"}, parsed.Events.Kafka.Brokers)
}
