package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueLower(t *testing.T) {
	const subject = "3f1c2a9e-5b7d-4c1e-9a0b-2d4e6f8a1b3c"

	tests := map[string]struct {
		in   []string
		want []string
	}{
		"nil stays nil":            {nil, nil},
		"case variants of one id":  {[]string{subject, "3F1C2A9E-5B7D-4C1E-9A0B-2D4E6F8A1B3C"}, []string{subject}},
		"blanks and padding":       {[]string{" ", "  " + subject + " ", ""}, []string{subject}},
		"first-seen order is kept": {[]string{"b", "a", "B"}, []string{"b", "a"}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, UniqueLower(tt.in))
		})
	}

	t.Run("input is not modified", func(t *testing.T) {
		in := []string{" A ", "a"}
		UniqueLower(in)
		assert.Equal(t, []string{" A ", "a"}, in)
	})
}
