package transport

import "testing"

func TestGroupCompatible(t *testing.T) {
	t.Parallel()
	for _, k := range []MediaKind{KindPhoto, KindVideo, KindAnimation} {
		if !k.GroupCompatible() {
			t.Fatalf("%s must be album compatible", k)
		}
	}
	for _, k := range []MediaKind{KindAudio, KindDocument} {
		if k.GroupCompatible() {
			t.Fatalf("%s must not be album compatible", k)
		}
	}
}

func TestMessageRefIsZero(t *testing.T) {
	t.Parallel()
	if !(MessageRef{}).IsZero() {
		t.Fatal("zero ref must report zero")
	}
	if (MessageRef{ChatID: 1, MessageID: 2}).IsZero() {
		t.Fatal("populated ref must not report zero")
	}
}
