package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandString(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "plain arguments",
			cmd:  NewCommand("kubectl", "get", "deployment", "api-gateway"),
			want: "'kubectl' 'get' 'deployment' 'api-gateway'",
		},
		{
			name: "argument with spaces",
			cmd:  NewCommand("echo", "hello world"),
			want: "'echo' 'hello world'",
		},
		{
			name: "embedded single quote",
			cmd:  NewCommand("echo", "it's"),
			want: `'echo' 'it'"'"'s'`,
		},
		{
			name: "shell metacharacters stay inert",
			cmd:  NewCommand("kubectl", "get", "deployment", "x; rm -rf /"),
			want: "'kubectl' 'get' 'deployment' 'x; rm -rf /'",
		},
		{
			name: "empty argument survives",
			cmd:  NewCommand("kubectl", "annotate", ""),
			want: "'kubectl' 'annotate' ''",
		},
		{
			name: "dollar expansion suppressed",
			cmd:  NewCommand("echo", "$HOME"),
			want: "'echo' '$HOME'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.String())
		})
	}
}
