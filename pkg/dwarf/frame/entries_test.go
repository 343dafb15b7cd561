package frame

import (
	"testing"
)

func TestPtrEncSupported(t *testing.T) {
	for _, tc := range []struct {
		enc ptrEnc
		ok  bool
	}{
		{ptrEncAbs, true},
		{ptrEncOmit, true},
		{ptrEncPCRel | ptrEncSdata4, true},
		{ptrEncDataRel | ptrEncSdata4, false},
		{0x05, false},
		{0x0d, false},
	} {
		if tc.enc.Supported() != tc.ok {
			t.Errorf("%#x: expected %v", tc.enc, tc.ok)
		}
	}
}
