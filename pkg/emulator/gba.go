package emulator

import (
	"fmt"

	"github.com/tharmok/gba-thumb-core/internal/apu"
	"github.com/tharmok/gba-thumb-core/internal/bus"
	"github.com/tharmok/gba-thumb-core/internal/cpu"
	"github.com/tharmok/gba-thumb-core/internal/dma"
	"github.com/tharmok/gba-thumb-core/internal/input"
	"github.com/tharmok/gba-thumb-core/internal/ioreg"
	"github.com/tharmok/gba-thumb-core/internal/irq"
	"github.com/tharmok/gba-thumb-core/internal/ppu"
	"github.com/tharmok/gba-thumb-core/internal/timer"
)

const (
	cyclesPerFrame = 280896
	biosSize       = 16 * 1024
)

// GBA wires the CPU interpreter to its memory-mapped peers: the PPU,
// the four DMA channels, the APU, the four cascading timers and the
// keypad. None of those peers are part of this core's spec surface —
// they exist so the bus and IRQ lines the CPU actually depends on have
// something real driving them.
type GBA struct {
	CPU   *cpu.CPU
	Bus   *bus.Bus
	PPU   *ppu.PPU
	APU   *apu.APU
	Timer [4]*timer.Timer
	DMA   [4]*dma.Channel
	Input *input.Input

	running bool
}

func NewGBA(opts ...cpu.Option) *GBA {
	b := bus.NewBus()
	irqLine := irq.NewIRQ()
	c := cpu.NewCPU(b, irqLine, opts...)

	dmaChannels := [4]*dma.Channel{}
	for i := 0; i < 4; i++ {
		dmaChannels[i] = dma.NewChannel(i, b, irqLine)
	}

	p := ppu.NewPPU(irqLine, dmaChannels)
	a := apu.NewAPU(dmaChannels)

	timers := [4]*timer.Timer{}
	for i := 0; i < 4; i++ {
		timers[i] = timer.NewTimer(i, irqLine, a)
	}
	for i := 0; i < 3; i++ {
		timers[i].Next = timers[i+1]
	}

	in := input.NewInput(irqLine)

	ioReg := ioreg.NewIOReg(irqLine, p, dmaChannels)

	b.Setup(nil, p, ioReg)

	return &GBA{
		CPU:     c,
		Bus:     b,
		PPU:     p,
		APU:     a,
		Timer:   timers,
		DMA:     dmaChannels,
		Input:   in,
		running: false,
	}
}

func (gba *GBA) Start() {
	gba.CPU.ResetPipeline()
	gba.running = true
}

func (gba *GBA) Stop() {
	gba.running = false
}

func (gba *GBA) LoadBIOS(data []byte) error {
	if len(data) != biosSize {
		return fmt.Errorf("gba: bios must be %d bytes, got %d", biosSize, len(data))
	}
	gba.Bus.LoadBIOS(data)
	return nil
}

func (gba *GBA) LoadROM(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("gba: rom is empty")
	}
	if len(data) > 32*1024*1024 {
		return fmt.Errorf("gba: rom must be at most %d bytes, got %d", 32*1024*1024, len(data))
	}
	gba.Bus.LoadROM(data)
	return nil
}

func (gba *GBA) Step() {
	gba.CPU.Step()
	gba.PPU.Step()
	gba.APU.Step()
	for i := 0; i < 4; i++ {
		gba.Timer[i].Step()
	}
	for i := 0; i < 4; i++ {
		gba.DMA[i].Step()
	}
}

func (gba *GBA) Update() {
	if !gba.running {
		return
	}
	for i := 0; i < cyclesPerFrame; i++ {
		gba.Step()
	}
}
