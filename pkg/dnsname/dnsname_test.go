package dnsname

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"adds trailing dot", "app.example.com", "app.example.com.", false},
		{"keeps trailing dot", "app.example.com.", "app.example.com.", false},
		{"lowercases", "Primary-ALB.US-East-1.elb.amazonaws.com", "primary-alb.us-east-1.elb.amazonaws.com.", false},
		{"punycode", "bücher.example", "xn--bcher-kva.example.", false},
		{"empty", "  ", "", true},
		{"label too long", "a123456789012345678901234567890123456789012345678901234567890123.example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("App.Example.com", "app.example.com."))
	assert.False(t, Equal("app.example.com", "api.example.com"))
	assert.False(t, Equal("", ""))
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "*.example.com.", Unescape(`\052.example.com.`))
	assert.Equal(t, "plain.example.com.", Unescape("plain.example.com."))
	assert.Equal(t, `trailing\05`, Unescape(`trailing\05`))
}
