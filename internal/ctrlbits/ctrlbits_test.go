package ctrlbits

import "testing"

func TestBitOrder(t *testing.T) {
	r := NewReader([]byte{0xA5})
	want := []uint32{1, 0, 1, 0, 0, 1, 0, 1}
	for i, w := range want {
		b, ok := r.Bit()
		if !ok {
			t.Fatalf("Bit %d: unexpected end of input", i)
		}
		if b != w {
			t.Errorf("Bit %d: expected %d, got %d", i, w, b)
		}
	}
	if _, ok := r.Bit(); ok {
		t.Error("Expected exhaustion after eight bits")
	}
}

func TestInterleavedBytes(t *testing.T) {
	w := NewWriter()
	w.Bit(1)
	w.Byte(0x42)
	for i := 0; i < 8; i++ {
		w.Bit(uint32(i & 1))
	}
	w.Byte(0x43)

	r := NewReader(w.Bytes())
	if b, _ := r.Bit(); b != 1 {
		t.Errorf("Expected first bit 1, got %d", b)
	}
	if v, _ := r.Byte(); v != 0x42 {
		t.Errorf("Expected raw byte 0x42, got %#x", v)
	}
	for i := 0; i < 8; i++ {
		b, ok := r.Bit()
		if !ok || b != uint32(i&1) {
			t.Errorf("Bit %d: expected %d, got %d (%v)", i, i&1, b, ok)
		}
	}
	if v, _ := r.Byte(); v != 0x43 {
		t.Errorf("Expected raw byte 0x43, got %#x", v)
	}
	if r.Pos() != len(w.Bytes()) {
		t.Errorf("Reader consumed %d of %d bytes", r.Pos(), len(w.Bytes()))
	}
}

func TestVarLen(t *testing.T) {
	values := []int{2, 3, 4, 7, 8, 100, 255, 256, 4097, 65535}

	w := NewWriter()
	for _, v := range values {
		w.VarLen(v)
	}

	r := NewReader(w.Bytes())
	for _, v := range values {
		got, ok := r.VarLen(0)
		if !ok {
			t.Fatalf("VarLen %d: unexpected end of input", v)
		}
		if got != v {
			t.Errorf("Expected %d, got %d", v, got)
		}
	}
}
