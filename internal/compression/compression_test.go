package compression

import (
	"bytes"
	"testing"
)

func TestRoundTripAllCodecs(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)

	for _, typ := range []Type{None, Snappy, LZ4, Zstd} {
		t.Run(typ.String(), func(t *testing.T) {
			enc, err := Encode(typ, src)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			dec, err := Decode(typ, enc)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(dec, src) {
				t.Fatalf("round trip mismatch for %v", typ)
			}
		})
	}
}

func TestUnknownCodecErrors(t *testing.T) {
	if _, err := Encode(Type(99), []byte("x")); err == nil {
		t.Fatal("expected error for unknown codec")
	}
	if _, err := Decode(Type(99), []byte("x")); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}
