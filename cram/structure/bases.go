package structure

import "github.com/exascience/elprep-cram/utils/nibbles"

// baseCode is the 4-bit CRAM base alphabet: A, C, G, T, N, and a few
// IUPAC ambiguity codes, wide enough to pack a read's bases two per
// byte the way the real CRAM base-substitution codec does.
var baseCode = map[byte]byte{
	'A': 0, 'C': 1, 'G': 2, 'T': 3, 'N': 4,
	'a': 0, 'c': 1, 'g': 2, 't': 3, 'n': 4,
	'=': 5, 'R': 6, 'Y': 7, 'S': 8, 'W': 9, 'K': 10, 'M': 11,
}

var baseFromCode = [16]byte{'A', 'C', 'G', 'T', 'N', '=', 'R', 'Y', 'S', 'W', 'K', 'M', 'N', 'N', 'N', 'N'}

// PackBases 4-bit packs a record's bases; ContainerIO uses it when it
// writes each record, halving the bytes its base sequence takes.
func PackBases(bases []byte) nibbles.Nibbles {
	packed := nibbles.Make(len(bases))
	for i, b := range bases {
		code, ok := baseCode[b]
		if !ok {
			code = 4 // N
		}
		packed.Set(i, code)
	}
	return packed
}

// UnpackBases reverses PackBases, returning upper-case bases.
func UnpackBases(packed nibbles.Nibbles) []byte {
	bases := make([]byte, packed.Len())
	for i := range bases {
		bases[i] = baseFromCode[packed.Get(i)]
	}
	return bases
}
