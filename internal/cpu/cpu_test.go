package cpu

import (
	"testing"

	"github.com/tharmok/gba-thumb-core/internal/bus"
	"github.com/tharmok/gba-thumb-core/internal/dma"
	"github.com/tharmok/gba-thumb-core/internal/ioreg"
	"github.com/tharmok/gba-thumb-core/internal/irq"
	"github.com/tharmok/gba-thumb-core/internal/ppu"
)

// newTestCPU wires a CPU to a real bus/IRQ/DMA/PPU/IOReg stack, the same
// pieces pkg/emulator.NewGBA assembles for them (no gamepak in either),
// without NewGBA's APU, timers and keypad. Handler tests poke
// registers and memory directly rather than stepping the pipeline.
func newTestCPU(opts ...Option) *CPU {
	b := bus.NewBus()
	irqLine := irq.NewIRQ()
	dmaChannels := [4]*dma.Channel{}
	for i := 0; i < 4; i++ {
		dmaChannels[i] = dma.NewChannel(i, b, irqLine)
	}
	p := ppu.NewPPU(irqLine, dmaChannels)
	ioReg := ioreg.NewIOReg(irqLine, p, dmaChannels)
	b.Setup(nil, p, ioReg)
	return NewCPU(b, irqLine, opts...)
}

func TestMoveImmediateClearsNegativeSetsZero(t *testing.T) {
	c := newTestCPU()
	c.reg[0] = 0xDEADBEEF
	c.SetFlags(true, false, false, false)

	c.executeThumbMoveCompareAddSubtractImmediate(0x2000) // MOV R0, #0x00

	if got := c.ReadReg(0); got != 0 {
		t.Fatalf("R0 = 0x%08X, want 0", got)
	}
	n, z, _, _ := c.GetFlags()
	if n {
		t.Error("N should be cleared")
	}
	if !z {
		t.Error("Z should be set")
	}
}

func TestMoveImmediatePreservesCarry(t *testing.T) {
	c := newTestCPU()
	c.SetFlags(false, false, true, false)

	c.executeThumbMoveCompareAddSubtractImmediate(0x2005) // MOV R0, #5

	_, _, carry, _ := c.GetFlags()
	if !carry {
		t.Error("MOV#imm8 must not clear an already-set carry flag")
	}
}

func TestAddRegPlusImm3Overflow(t *testing.T) {
	c := newTestCPU()
	c.reg[1] = 0x7FFFFFFF

	c.executeThumbAddSubtract(0x1C48) // ADD R0, R1, #1

	if got := c.ReadReg(0); got != 0x80000000 {
		t.Fatalf("R0 = 0x%08X, want 0x80000000", got)
	}
	n, z, carry, v := c.GetFlags()
	if !n || z || carry || !v {
		t.Fatalf("flags N=%v Z=%v C=%v V=%v, want N=1 Z=0 C=0 V=1", n, z, carry, v)
	}
}

func TestBranchWithLinkPair(t *testing.T) {
	c := newTestCPU()
	c.reg[15] = 0x8004 // first half at 0x8000; PC reads 4 ahead
	c.reg[14] = 0

	c.executeThumbLongBranchWithLink(0xF000) // BL high half, offset 0
	if got := c.ReadReg(14); got != 0x8004 {
		t.Fatalf("LR after first half = 0x%08X, want 0x8004", got)
	}

	c.reg[15] = 0x8006
	c.executeThumbLongBranchWithLink(0xF804) // BL low half, offset 4
	if got := c.ReadReg(15); got != 0x800C {
		t.Fatalf("PC after second half = 0x%08X, want 0x800C", got)
	}
	if got := c.ReadReg(14); got != 0x8005 {
		t.Fatalf("LR after second half = 0x%08X, want 0x8005", got)
	}
}

func TestPushStoresLowToHighWithLRLast(t *testing.T) {
	c := newTestCPU()
	c.reg[13] = 0x03007F00
	c.reg[0] = 1
	c.reg[4] = 2
	c.reg[14] = 3

	c.executeThumbPushPopRegisters(0xB511) // PUSH {R0, R4, LR}

	if got := c.ReadReg(13); got != 0x03007EF4 {
		t.Fatalf("SP = 0x%08X, want 0x03007EF4", got)
	}
	if got := c.Bus.Read32(0x03007EF4); got != 1 {
		t.Fatalf("mem[0x...EF4] = %d, want 1 (R0)", got)
	}
	if got := c.Bus.Read32(0x03007EF8); got != 2 {
		t.Fatalf("mem[0x...EF8] = %d, want 2 (R4)", got)
	}
	if got := c.Bus.Read32(0x03007EFC); got != 3 {
		t.Fatalf("mem[0x...EFC] = %d, want 3 (LR)", got)
	}
}

func TestPopRestoresPCAndAdjustsSP(t *testing.T) {
	c := newTestCPU()
	sp := uint32(0x03007EF4)
	c.Bus.Write32(sp, 1)
	c.Bus.Write32(sp+4, 2)
	c.Bus.Write32(sp+8, 0x08000123)
	c.reg[13] = sp

	c.executeThumbPushPopRegisters(0xBD11) // POP {R0, R4, PC}

	if got := c.ReadReg(0); got != 1 {
		t.Fatalf("R0 = %d, want 1", got)
	}
	if got := c.ReadReg(4); got != 2 {
		t.Fatalf("R4 = %d, want 2", got)
	}
	if got := c.ReadReg(15); got != 0x08000122 {
		t.Fatalf("PC = 0x%08X, want 0x08000122 (low bit masked)", got)
	}
	if got := c.ReadReg(13); got != sp+12 {
		t.Fatalf("SP = 0x%08X, want 0x%08X", got, sp+12)
	}
	if !c.ShouldResetPipeline {
		t.Error("POP {..., PC} must request a pipeline refill")
	}
}

func TestLogicalALUOpsPreserveCarry(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
	}{
		{"AND", 0x4008},
		{"EOR", 0x4048},
		{"TST", 0x4208},
		{"ORR", 0x4308},
		{"BIC", 0x4388},
		{"MVN", 0x43C8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCPU()
			c.SetFlags(false, false, true, false)
			c.reg[0] = 0xF0F0F0F0
			c.reg[1] = 0x0F0F0F0F

			c.executeThumbALUOperations(tc.opcode)

			_, _, carry, _ := c.GetFlags()
			if !carry {
				t.Errorf("%s must not clear carry: spec lists only N,Z updates for this op", tc.name)
			}
		})
	}
}

func TestMulClearsCarry(t *testing.T) {
	c := newTestCPU()
	c.SetFlags(false, false, true, false)
	c.reg[0] = 3
	c.reg[1] = 4

	c.executeThumbALUOperations(0x4348) // MUL R0, R1

	if got := c.ReadReg(0); got != 12 {
		t.Fatalf("R0 = %d, want 12", got)
	}
	_, _, carry, _ := c.GetFlags()
	if carry {
		t.Error("THUMB MUL fixes the UNPREDICTABLE carry result to 0")
	}
}

func TestASRByRegisterBeyond32KeepsSignBitAsCarry(t *testing.T) {
	c := newTestCPU()
	c.reg[0] = 0x80000000
	c.reg[1] = 40 // shift amount >= 32

	c.executeThumbALUOperations(0x4108) // ASR R0, R1

	if got := c.ReadReg(0); got != 0xFFFFFFFF {
		t.Fatalf("R0 = 0x%08X, want 0xFFFFFFFF (sign-extended)", got)
	}
	_, _, carry, _ := c.GetFlags()
	if !carry {
		t.Error("ASR by 32 or more must carry the sign bit of the original value")
	}
}

func TestSoftwareInterruptRealModeEntersSVC(t *testing.T) {
	c := newTestCPU()
	c.reg[15] = 0x8004
	c.CPSR = BitT // THUMB, user mode bits 0

	c.executeThumbSoftwareInterrupt()

	if c.Mode() != ModeSVC {
		t.Fatalf("mode = 0x%02X, want SVC", c.Mode())
	}
	if c.IsThumb() {
		t.Error("SWI must clear T and enter ARM state")
	}
	if (c.CPSR & BitI) == 0 {
		t.Error("SWI must set the IRQ-disable bit")
	}
	if got := c.ReadReg(14); got != 0x8003 {
		t.Fatalf("R14_svc = 0x%08X, want 0x8003 (PC-2 | 1)", got)
	}
	if got := c.ReadReg(15); got != 0x08 {
		t.Fatalf("PC = 0x%08X, want exception vector 0x08", got)
	}
}

func TestSoftwareInterruptFakeModeCallsHandler(t *testing.T) {
	var gotCall uint8
	called := false
	c := newTestCPU(WithFakeSWI(func(callNumber uint8) {
		called = true
		gotCall = callNumber
	}))
	c.reg[15] = 0x03000004
	c.Bus.Write16(0x03000000, 0xDF00|0x05) // SWI #5 in IWRAM

	c.executeThumbSoftwareInterrupt()

	if !called {
		t.Fatal("fake_swi mode must call the configured handler")
	}
	if gotCall != 5 {
		t.Fatalf("callNumber = %d, want 5", gotCall)
	}
	if c.ShouldResetPipeline {
		t.Error("HLE SWI dispatch must not trigger a pipeline refill")
	}
}

func TestConditionalBranchTakenAndNotTaken(t *testing.T) {
	c := newTestCPU()
	c.reg[15] = 0x8004
	c.SetFlags(false, true, false, false) // Z=1

	c.executeThumbConditionalBranch(0xD002) // BEQ +4

	if got := c.ReadReg(15); got != 0x8008 {
		t.Fatalf("PC after taken BEQ = 0x%08X, want 0x8008", got)
	}

	c.reg[15] = 0x8004
	c.SetFlags(false, false, false, false) // Z=0
	c.executeThumbConditionalBranch(0xD002)
	if got := c.ReadReg(15); got != 0x8004 {
		t.Fatalf("PC after not-taken BEQ = 0x%08X, want unchanged 0x8004", got)
	}
}

func TestBXSwitchesToARMState(t *testing.T) {
	c := newTestCPU()
	c.CPSR |= BitT
	c.reg[1] = 0x08000100 // even: branch to ARM state

	c.executeThumbHiRegisterOperationsBranchExchange(0x4708) // BX R1

	if c.IsThumb() {
		t.Error("BX to an even address must clear T and enter ARM state")
	}
	if got := c.ReadReg(15); got != 0x08000100 {
		t.Fatalf("PC = 0x%08X, want 0x08000100", got)
	}
}

func TestBXStaysInThumbOnOddTarget(t *testing.T) {
	c := newTestCPU()
	c.CPSR |= BitT
	c.reg[1] = 0x08000101

	c.executeThumbHiRegisterOperationsBranchExchange(0x4708) // BX R1

	if !c.IsThumb() {
		t.Error("BX to an odd address must stay in THUMB state")
	}
	if got := c.ReadReg(15); got != 0x08000100 {
		t.Fatalf("PC = 0x%08X, want low bit masked off", got)
	}
}

func TestEmptyRegisterListTransfersOnlyPCAndAdjustsBy0x40(t *testing.T) {
	c := newTestCPU()
	c.reg[0] = 0x03000100 // Rb
	c.reg[15] = 0x08000050

	c.executeThumbMultipleLoadStore(0xC000) // STMIA R0!, {} (empty list)

	if got := c.ReadReg(0); got != 0x03000140 {
		t.Fatalf("Rb = 0x%08X, want 0x03000140 (base + 0x40)", got)
	}
	if got := c.Bus.Read32(0x03000100); got != 0x08000052 {
		t.Fatalf("stored value = 0x%08X, want PC+2 per the implicit-R15 special case", got)
	}
}

func TestEmptyPushPopListTransfersOnlyPCAndAdjustsSPBy0x40(t *testing.T) {
	c := newTestCPU()
	c.reg[13] = 0x03007F00
	c.reg[15] = 0x08000050

	c.executeThumbPushPopRegisters(0xB400) // PUSH {} (empty list)

	if got := c.ReadReg(13); got != 0x03007EC0 {
		t.Fatalf("SP after empty PUSH = 0x%08X, want 0x03007EC0 (base - 0x40)", got)
	}
	if got := c.Bus.Read32(0x03007EC0); got != 0x08000052 {
		t.Fatalf("stored value = 0x%08X, want PC+2 per the implicit-R15 special case", got)
	}

	c.reg[13] = 0x03007EC0
	c.Bus.Write32(0x03007EC0, 0x08000123)

	c.executeThumbPushPopRegisters(0xBC00) // POP {} (empty list)

	if got := c.ReadReg(15); got != 0x08000122 {
		t.Fatalf("PC after empty POP = 0x%08X, want 0x08000122 (low bit masked)", got)
	}
	if got := c.ReadReg(13); got != 0x03007F00 {
		t.Fatalf("SP after empty POP = 0x%08X, want 0x03007F00 (base + 0x40)", got)
	}
}
