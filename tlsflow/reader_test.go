package tlsflow

import "testing"

func TestU16be(t *testing.T) {
	got := u16be([]byte{0x01, 0x02})
	if got != 0x0102 {
		t.Errorf("u16be = %x, want 0102", got)
	}
}

func TestU24be(t *testing.T) {
	got := u24be([]byte{0x01, 0x02, 0x03})
	if got != 0x010203 {
		t.Errorf("u24be = %x, want 010203", got)
	}
}

func TestDerLength(t *testing.T) {
	cases := []struct {
		name       string
		in         []byte
		wantLen    int
		wantConsumed int
		wantOK     bool
	}{
		{"short form", []byte{0x05, 0xFF}, 5, 1, true},
		{"short form boundary", []byte{0x7F}, 0x7F, 1, true},
		{"0x81 long form", []byte{0x81, 0x80}, 0x80, 2, true},
		{"0x82 long form", []byte{0x82, 0x01, 0x00}, 0x100, 3, true},
		{"0x81 truncated", []byte{0x81}, 0, 0, false},
		{"0x82 truncated", []byte{0x82, 0x01}, 0, 0, false},
		{"unsupported long form", []byte{0x83, 0x01, 0x02, 0x03}, 0, 0, false},
		{"empty input", []byte{}, 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			length, consumed, ok := derLength(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if length != tc.wantLen || consumed != tc.wantConsumed {
				t.Errorf("derLength(%x) = (%d, %d), want (%d, %d)", tc.in, length, consumed, tc.wantLen, tc.wantConsumed)
			}
		})
	}
}

func TestCursor(t *testing.T) {
	c := newCursor([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	b, ok := c.u8()
	if !ok || b != 0x01 {
		t.Fatalf("u8 = (%v, %v), want (1, true)", b, ok)
	}

	u16, ok := c.u16()
	if !ok || u16 != 0x0203 {
		t.Fatalf("u16 = (%x, %v), want (0203, true)", u16, ok)
	}

	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}

	if !c.skip(1) {
		t.Fatalf("skip(1) failed")
	}
	if c.len() != 1 {
		t.Fatalf("len after skip = %d, want 1", c.len())
	}

	if ok := c.skip(5); ok {
		t.Fatalf("skip(5) on a 1-byte cursor should fail")
	}
}

func TestCursorU24Truncated(t *testing.T) {
	c := newCursor([]byte{0x01, 0x02})
	if _, ok := c.u24(); ok {
		t.Fatalf("u24 on a 2-byte cursor should fail")
	}
}
