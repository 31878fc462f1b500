package dbformat

import "testing"

func TestTrailerRoundTrip(t *testing.T) {
	seq, typ := SequenceNumber(12345), TypeValue
	trailer := PackTrailer(seq, typ)
	gotSeq, gotTyp := UnpackTrailer(trailer)
	if gotSeq != seq || gotTyp != typ {
		t.Fatalf("round trip got (%d,%d), want (%d,%d)", gotSeq, gotTyp, seq, typ)
	}
}

func TestTrailerOrdersNewestFirst(t *testing.T) {
	older := PackTrailer(1, TypeValue)
	newer := PackTrailer(2, TypeValue)
	if !(newer > older) {
		t.Fatalf("expected newer trailer %d > older trailer %d", newer, older)
	}
}

func TestAppendDecodeTrailer(t *testing.T) {
	buf := []byte("user-key")
	buf = AppendTrailer(buf, 7, TypeDeletion)
	seq, typ := DecodeTrailer(buf)
	if seq != 7 || typ != TypeDeletion {
		t.Fatalf("decoded (%d,%d), want (7,%d)", seq, typ, TypeDeletion)
	}
}
