package handlers

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printserver/internal/domain"
)

func TestDecodeDocument(t *testing.T) {
	// 0xfb 0xff 0xbf encodes to characters that differ between alphabets.
	payload := append([]byte("%PDF-1.4\n"), 0xfb, 0xff, 0xbf, 0x01)

	tests := []struct {
		name string
		in   string
	}{
		{"standard", base64.StdEncoding.EncodeToString(payload)},
		{"standard unpadded", base64.RawStdEncoding.EncodeToString(payload)},
		{"url safe", base64.URLEncoding.EncodeToString(payload)},
		{"url safe unpadded", base64.RawURLEncoding.EncodeToString(payload)},
		{"data url", "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(payload)},
		{"line wrapped", wrap(base64.StdEncoding.EncodeToString(payload), 8)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeDocument(tc.in)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecodeDocument_Invalid(t *testing.T) {
	for _, in := range []string{"%%%", "====", "data:application/pdf;base64,", "ab+c-d"} {
		_, err := decodeDocument(in)
		assert.ErrorIs(t, err, domain.ErrValidation, in)
		assert.Equal(t, "Invalid base64Data.", domain.ClientMessage(err))
	}
}

func wrap(s string, width int) string {
	out := ""
	for len(s) > width {
		out += s[:width] + "\r\n"
		s = s[width:]
	}
	return out + s
}
