package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    ChatTarget
		wantErr bool
	}{
		{raw: "-100123", want: ChatTarget{ChatID: -100123}},
		{raw: " 42:7 ", want: ChatTarget{ChatID: 42, ThreadID: 7}},
		{raw: "", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "42:x", wantErr: true},
		{raw: "0", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)

		back, err := ParseTarget(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, back, "String() parses back")
	}
}
