// internal/attach/attach_test.go

package attach

import "testing"

func TestReplaceReleasesPredecessor(t *testing.T) {
	var h Holder

	first := &File{Name: "photo1.jpg", MIME: "image/jpeg", Data: []byte{1, 2, 3}}
	h.Replace(first)
	if h.Current() != first || h.Released() != 0 {
		t.Fatalf("first select: current=%v released=%d", h.Current(), h.Released())
	}

	second := &File{Name: "photo2.jpg", MIME: "image/jpeg", Data: []byte{4}}
	h.Replace(second)
	if h.Current() != second {
		t.Fatal("second select did not supersede")
	}
	if h.Released() != 1 || first.Data != nil {
		t.Fatalf("predecessor not released: released=%d data=%v", h.Released(), first.Data)
	}
}

func TestDiscard(t *testing.T) {
	var h Holder
	h.Replace(&File{Name: "sig.png"})
	h.Discard()
	if h.Current() != nil {
		t.Fatal("discard left a file")
	}
	// Discarding an empty holder is a no-op.
	h.Discard()
	if h.Released() != 1 {
		t.Fatalf("released = %d, want 1", h.Released())
	}
}
