package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateNIF(t *testing.T) {
	cases := []struct {
		name string
		nif  string
		want NIFStatus
	}{
		{"empty", "", NIFInvalid},
		{"dni valid", "12345678Z", NIFValid},
		{"dni wrong letter", "12345678A", NIFMaybe},
		{"dni with dash", "12345678-Z", NIFValid},
		{"nie valid", "X1234567L", NIFValid},
		{"nie wrong letter", "X1234567T", NIFMaybe},
		{"cif valid letter org", "A58818501", NIFValid},
		{"cif wrong control", "A58818502", NIFMaybe},
		{"es prefix valid stays valid", "ES12345678Z", NIFValid},
		{"es prefix wrapping garbage", "ESXXXX", NIFMaybe},
		{"eu vat id", "EU826010755", NIFValid},
		{"too short", "1234567", NIFInvalid},
		{"too long", "12345678901", NIFInvalid},
		{"all digits", "123456789", NIFInvalid},
		{"plausible unknown shape", "AB1234567", NIFMaybe},
		{"lowercase normalized", "12345678z", NIFValid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateNIF(tc.nif))
		})
	}
}
