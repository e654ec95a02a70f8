package structure

import (
	"bytes"
	"testing"
)

func TestPackUnpackBasesRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"A",
		"ACGT",
		"ACGTN",
		"ACGTACGTACGT",
		"NNNNN",
	}
	for _, bases := range cases {
		packed := PackBases([]byte(bases))
		if packed.Len() != len(bases) {
			t.Errorf("PackBases(%q): Len() = %d, want %d", bases, packed.Len(), len(bases))
		}
		got := UnpackBases(packed)
		if !bytes.Equal(got, []byte(bases)) {
			t.Errorf("round trip %q: got %q", bases, got)
		}
	}
}

func TestPackBasesUnknownBecomesN(t *testing.T) {
	packed := PackBases([]byte("AxG"))
	got := UnpackBases(packed)
	if !bytes.Equal(got, []byte("ANG")) {
		t.Errorf("unknown base: got %q, want %q", got, "ANG")
	}
}

func TestSetRefMD5(t *testing.T) {
	s := &Slice{}
	s.SetRefMD5([]byte("ACGTACGT"))
	s2 := &Slice{}
	s2.SetRefMD5([]byte("ACGTACGT"))
	if s.RefMD5 != s2.RefMD5 {
		t.Error("SetRefMD5 is not deterministic for equal inputs")
	}
	s3 := &Slice{}
	s3.SetRefMD5([]byte("different"))
	if s.RefMD5 == s3.RefMD5 {
		t.Error("SetRefMD5 produced the same checksum for different inputs")
	}
}
