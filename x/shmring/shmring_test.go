package shmring

import "testing"

func TestOrderAcrossWrap(t *testing.T) {
	r := New(64)

	const N = 2000
	src := make([]byte, N)
	for i := range src {
		src[i] = byte(i)
	}

	// Small uneven steps force frequent wraps and split copies.
	p := src
	dst := make([]byte, 0, N)
	for len(dst) < N {
		if len(p) > 0 {
			step := 7
			if step > len(p) {
				step = len(p)
			}
			p = p[r.TryWriteFrom(p[:step]):]
		}
		var tmp [17]byte
		n := r.TryReadInto(tmp[:])
		dst = append(dst, tmp[:n]...)
	}

	for i := 0; i < N; i++ {
		if dst[i] != src[i] {
			t.Fatalf("mismatch at %d: got=%d want=%d", i, dst[i], src[i])
		}
	}
}

func TestSpaceAndAvailable(t *testing.T) {
	r := New(8)
	if r.Space() != 8 || r.Available() != 0 {
		t.Fatalf("empty: space=%d avail=%d", r.Space(), r.Available())
	}
	if n := r.TryWriteFrom([]byte("0123456789")); n != 8 {
		t.Fatalf("write into 8 -> %d", n)
	}
	if r.Space() != 0 || r.Available() != 8 {
		t.Fatalf("full: space=%d avail=%d", r.Space(), r.Available())
	}
	if n := r.TryWriteFrom([]byte("x")); n != 0 {
		t.Fatalf("write into full -> %d", n)
	}
	buf := make([]byte, 3)
	if n := r.TryReadInto(buf); n != 3 || string(buf) != "012" {
		t.Fatalf("read -> %d %q", n, buf)
	}
}

func TestReadableWritableEdges(t *testing.T) {
	r := New(8)
	select {
	case <-r.Readable():
		t.Fatal("unexpected Readable on empty ring")
	default:
	}
	if n := r.TryWriteFrom([]byte{1, 2, 3}); n != 3 {
		t.Fatalf("write 3 -> %d", n)
	}
	select {
	case <-r.Readable():
	default:
		t.Fatal("expected Readable")
	}
	r.TryWriteFrom([]byte{4})
	select {
	case <-r.Readable():
		t.Fatal("Readable fired without an empty -> non-empty edge")
	default:
	}

	r.TryWriteFrom([]byte{5, 6, 7, 8})
	r.TryReadInto(make([]byte, 1))
	select {
	case <-r.Writable():
	default:
		t.Fatal("expected Writable after reading from a full ring")
	}
}

func TestNewPanicsOnBadSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New(6) did not panic")
		}
	}()
	New(6)
}
