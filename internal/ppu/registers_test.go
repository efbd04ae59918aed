package ppu

import "testing"

func TestDisplayStatusWriteOnlyLatchesIRQEnables(t *testing.T) {
	var r DisplayStatus
	r.SetVBlank(true)
	r.SetHBlank(true)
	r.SetVCounter(true)

	r.Write(0, 0xFF)

	if got := r.Read(0); got != 0x3F {
		t.Fatalf("byte0 = 0x%02X, want 0x3F (status bits kept, IRQ-enables latched)", got)
	}
	if !r.VBlankIRQ() || !r.HBlankIRQ() || !r.VCounterIRQ() {
		t.Error("all three IRQ-enable bits should be set after writing 0xFF")
	}
	if !r.VBlank() || !r.HBlank() || !r.VCounter() {
		t.Error("status bits must be unaffected by a byte-0 write")
	}
}

func TestDisplayStatusWriteCannotClearStatusBits(t *testing.T) {
	var r DisplayStatus
	r.SetVBlank(true)

	r.Write(0, 0x00)

	if !r.VBlank() {
		t.Error("writing 0 to byte0 must not clear the read-only VBlank status bit")
	}
	if r.VBlankIRQ() {
		t.Error("writing 0 to byte0 must clear the IRQ-enable bits")
	}
}

func TestReferencePointSignExtendsBit27(t *testing.T) {
	var r ReferencePoint
	r.Write(0, 0x00)
	r.Write(1, 0x00)
	r.Write(2, 0x00)
	r.Write(3, 0x08)

	if got := r.initial; got != 0x08000000 {
		t.Fatalf("initial = 0x%08X, want 0x08000000", got)
	}
	if got := r.Current(); uint32(got) != 0xF8000000 {
		t.Fatalf("current = 0x%08X, want 0xF8000000 sign-extended", uint32(got))
	}
}

func TestReferencePointPositiveStaysUnextended(t *testing.T) {
	var r ReferencePoint
	r.Write(0, 0x00)
	r.Write(1, 0x00)
	r.Write(2, 0x00)
	r.Write(3, 0x04) // bit27 clear

	if got := r.Current(); got != 0x04000000 {
		t.Fatalf("current = 0x%08X, want 0x04000000 unextended", uint32(got))
	}
}

func TestReferencePointReadReturnsExactWrittenBytes(t *testing.T) {
	var r ReferencePoint
	r.Write(0, 0x11)
	r.Write(1, 0x22)
	r.Write(2, 0x33)
	r.Write(3, 0x44)

	for i, want := range []byte{0x11, 0x22, 0x33, 0x44} {
		if got := r.Read(i); got != want {
			t.Errorf("Read(%d) = 0x%02X, want 0x%02X", i, got, want)
		}
	}
}

func TestWindowRangeChangedFlagTracksTransitions(t *testing.T) {
	var r WindowRange
	if r.Changed() {
		t.Fatal("fresh register must not report changed")
	}

	r.Write(0, 10)
	if !r.Changed() {
		t.Error("writing a new max value should set the changed flag")
	}
	if r.Changed() {
		t.Error("Changed() must clear the flag once observed")
	}

	r.Write(0, 10) // same value again
	if r.Changed() {
		t.Error("writing the same value again must not set changed")
	}

	r.Write(1, 5)
	if !r.Changed() {
		t.Error("writing a new min value should set the changed flag")
	}
}

func TestWindowLayerSelectMasksToSixBits(t *testing.T) {
	var w WindowLayerSelect
	w.Write(0, 0xFF)

	if got := w.Read(0); got != 0x3F {
		t.Fatalf("Read(0) = 0x%02X, want 0x3F", got)
	}
	for bg := 0; bg < 4; bg++ {
		if !w.BGEnabled(0, bg) {
			t.Errorf("BG%d should be enabled", bg)
		}
	}
	if !w.OBJEnabled(0) || !w.SFXEnabled(0) {
		t.Error("OBJ and SFX enable bits should be set")
	}
}

func TestBlendControlRoundTrip(t *testing.T) {
	var b BlendControl
	b.Write(0, 0xFF)
	b.Write(1, 0xFF)

	if got := b.Read(0); got != 0xFF {
		t.Fatalf("byte0 = 0x%02X, want 0xFF (full byte writable)", got)
	}
	if got := b.Read(1); got != 0x3F {
		t.Fatalf("byte1 = 0x%02X, want 0x3F (only 6 second-target bits)", got)
	}
	if b.Effect() != 3 {
		t.Fatalf("Effect() = %d, want 3", b.Effect())
	}
	for layer := 0; layer < 6; layer++ {
		if !b.FirstTarget(layer) {
			t.Errorf("first-target layer %d should be set", layer)
		}
		if !b.SecondTarget(layer) {
			t.Errorf("second-target layer %d should be set", layer)
		}
	}
}

func TestDisplayControlDecodesByte0Fields(t *testing.T) {
	var d DisplayControl
	d.Write(0, 0x07|1<<3|1<<4|1<<5|1<<6|1<<7)

	if d.Mode() != 7&0x7 {
		t.Fatalf("Mode() = %d, want %d", d.Mode(), 7&0x7)
	}
	if !d.CGBMode() || !d.HBlankOAMFree() || !d.OBJMapping1D() || !d.ForcedBlank() {
		t.Error("all byte0 flag bits should decode set")
	}
	if d.Frame() != 1 {
		t.Fatalf("Frame() = %d, want 1", d.Frame())
	}
}

func TestDisplayControlLayerEnableBits(t *testing.T) {
	var d DisplayControl
	d.Write(1, 0xFF)
	for i := 0; i < 8; i++ {
		if !d.LayerEnabled(i) {
			t.Errorf("layer %d should report enabled", i)
		}
	}
}

func TestBackgroundControlFields(t *testing.T) {
	var bg BackgroundControl
	bg.Write(0, 0x3|0x3<<2|1<<6|1<<7)
	bg.Write(1, 0x1F|1<<5|0x3<<6)

	if bg.Priority() != 3 {
		t.Fatalf("Priority() = %d, want 3", bg.Priority())
	}
	if bg.TileBlock() != 3 {
		t.Fatalf("TileBlock() = %d, want 3", bg.TileBlock())
	}
	if !bg.Mosaic() || !bg.FullPalette() {
		t.Error("mosaic and full-palette bits should be set")
	}
	if bg.MapBlock() != 0x1F {
		t.Fatalf("MapBlock() = %d, want 0x1F", bg.MapBlock())
	}
	if !bg.Wraparound() {
		t.Error("wraparound bit should be set")
	}
	if bg.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", bg.Size())
	}
}

func TestOutOfRangeByteIndexIsANoOp(t *testing.T) {
	var d DisplayControl
	d.Write(5, 0xFF) // out of range, must not panic or alter state
	if got := d.Read(5); got != 0 {
		t.Fatalf("Read(5) = 0x%02X, want 0 for an undefined index", got)
	}
	if d.Value() != 0 {
		t.Fatalf("Value() = 0x%04X, want 0 (out-of-range write ignored)", d.Value())
	}
}

func TestResetRestoresPowerOnZero(t *testing.T) {
	var r ReferencePoint
	r.Write(3, 0x08)
	r.Reset()
	if r.initial != 0 || r.Current() != 0 {
		t.Fatal("Reset must clear both initial and current shadow")
	}
}
