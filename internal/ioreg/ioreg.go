package ioreg

import (
	"github.com/tharmok/gba-thumb-core/internal/dma"
	"github.com/tharmok/gba-thumb-core/internal/irq"
	"github.com/tharmok/gba-thumb-core/internal/ppu"
)

type IOReg struct {
	buffer       [0x400]byte
	changed      [0x400]bool
	IRQ          *irq.IRQ
	PPU          *ppu.PPU
	DMA          [4]*dma.Channel
	shouldCommit bool
}

func NewIOReg(irq *irq.IRQ, ppu *ppu.PPU, dma [4]*dma.Channel) *IOReg {
	return &IOReg{
		IRQ: irq,
		PPU: ppu,
		DMA: dma,
	}
}

// byteReg is the common shape of every PPU register in internal/ppu:
// Read/Write a single byte by index, no further decoding needed.
type byteReg interface {
	Read(i int) byte
	Write(i int, v byte)
}

func (r *IOReg) Read8(addr uint32) byte {
	switch {
	case addr < 0x2: // DISPCNT
		return r.PPU.DISPCNT.Read(int(addr))
	case 0x4 <= addr && addr < 0x6: // DISPSTAT
		return r.PPU.DISPSTAT.Read(int(addr - 0x4))
	case 0x6 <= addr && addr < 0x8: // VCOUNT
		b := (addr - 0x6) * 8
		return byte((r.PPU.VCOUNT >> b) & 0xFF)
	case 0x8 <= addr && addr < 0x10: // BG0CNT..BG3CNT
		bg := (addr - 0x8) / 2
		return r.PPU.BGCNT[bg].Read(int((addr - 0x8) % 2))
	case 0x28 <= addr && addr < 0x2C: // BG2X
		return r.PPU.RefPoint[0].Read(int(addr - 0x28))
	case 0x2C <= addr && addr < 0x30: // BG2Y
		return r.PPU.RefPoint[1].Read(int(addr - 0x2C))
	case 0x38 <= addr && addr < 0x3C: // BG3X
		return r.PPU.RefPoint[2].Read(int(addr - 0x38))
	case 0x3C <= addr && addr < 0x40: // BG3Y
		return r.PPU.RefPoint[3].Read(int(addr - 0x3C))
	case 0x40 <= addr && addr < 0x42: // WIN0H
		return r.PPU.WinRange[0].Read(int(addr - 0x40))
	case 0x42 <= addr && addr < 0x44: // WIN1H
		return r.PPU.WinRange[1].Read(int(addr - 0x42))
	case 0x44 <= addr && addr < 0x46: // WIN0V
		return r.PPU.WinRange[2].Read(int(addr - 0x44))
	case 0x46 <= addr && addr < 0x48: // WIN1V
		return r.PPU.WinRange[3].Read(int(addr - 0x46))
	case 0x48 <= addr && addr < 0x4A: // WININ
		return r.PPU.WinIn.Read(int(addr - 0x48))
	case 0x4A <= addr && addr < 0x4C: // WINOUT
		return r.PPU.WinOut.Read(int(addr - 0x4A))
	case 0x50 <= addr && addr < 0x52: // BLDCNT
		return r.PPU.BLDCNT.Read(int(addr - 0x50))
	case 0xBA <= addr && addr < 0xBC: // DMA0CNT_H
		b := (addr - 0xBA) * 8
		return byte((r.DMA[0].CNT_H >> b) & 0xFF)
	case 0xC6 <= addr && addr < 0xC8: // DMA1CNT_H
		b := (addr - 0xC6) * 8
		return byte((r.DMA[1].CNT_H >> b) & 0xFF)
	case 0xD2 <= addr && addr < 0xD4: // DMA2CNT_H
		b := (addr - 0xD2) * 8
		return byte((r.DMA[2].CNT_H >> b) & 0xFF)
	case 0xDE <= addr && addr < 0xE0: // DMA3CNT_H
		b := (addr - 0xDE) * 8
		return byte((r.DMA[3].CNT_H >> b) & 0xFF)
	case 0x200 <= addr && addr < 0x202: // IE
		b := (addr - 0x200) * 8
		return byte((r.IRQ.IE >> b) & 0xFF)
	case 0x202 <= addr && addr < 0x204: // IF
		b := (addr - 0x202) * 8
		return byte((r.IRQ.IF >> b) & 0xFF)
	case 0x208 <= addr && addr < 0x20C: // IME
		b := (addr - 0x208) * 8
		return byte((r.IRQ.IME >> b) & 0xFF)
	}
	// Unknown
	return 0xFF
}

func (r *IOReg) Write8(addr uint32, val byte) {
	r.buffer[addr] = val
	r.changed[addr] = true
	r.shouldCommit = true
}

func (r *IOReg) Write16(addr uint32, val uint16) {
	r.Write8(addr, byte(val&0xFF))
	r.Write8(addr+1, byte((val>>8)&0xFF))
}

func (r *IOReg) Write32(addr uint32, val uint32) {
	r.Write16(addr, uint16(val&0xFFFF))
	r.Write16(addr+2, uint16((val>>16)&0xFFFF))
}

func (r *IOReg) getMask8(addr uint32) byte {
	if r.changed[addr] {
		return 0xFF
	} else {
		return 0x0
	}
}

func (r *IOReg) getMask16(addr uint32) uint16 {
	low := uint16(r.getMask8(addr))
	high := uint16(r.getMask8(addr + 1))
	return high<<8 | low
}

func (r *IOReg) getMask32(addr uint32) uint32 {
	low := uint32(r.getMask16(addr))
	high := uint32(r.getMask16(addr + 2))
	return high<<16 | low
}

func (r *IOReg) readBuffer8(addr uint32) byte {
	return r.buffer[addr]
}

func (r *IOReg) readBuffer16(addr uint32) uint16 {
	low := uint16(r.readBuffer8(addr))
	high := uint16(r.readBuffer8(addr + 1))
	return high<<8 | low
}

func (r *IOReg) readBuffer32(addr uint32) uint32 {
	low := uint32(r.readBuffer16(addr))
	high := uint32(r.readBuffer16(addr + 2))
	return high<<16 | low
}

// commitReg pushes every changed byte in [base, base+n) into reg through
// its own Write(i, v), one byte at a time, matching how the CPU actually
// touches these registers over MMIO.
func (r *IOReg) commitReg(base uint32, n int, reg byteReg) {
	for i := 0; i < n; i++ {
		addr := base + uint32(i)
		if r.changed[addr] {
			reg.Write(i, r.buffer[addr])
		}
	}
}

func (r *IOReg) Commit() {
	if !r.shouldCommit {
		return
	}
	r.commitReg(0x0, 2, &r.PPU.DISPCNT)
	r.commitReg(0x4, 2, &r.PPU.DISPSTAT)
	for bg := 0; bg < 4; bg++ {
		r.commitReg(0x8+uint32(bg)*2, 2, &r.PPU.BGCNT[bg])
	}
	for bg := 0; bg < 4; bg++ {
		if mask := r.getMask16(0x10 + uint32(bg)*4); mask != 0 { // BGxHOFS
			value := r.readBuffer16(0x10+uint32(bg)*4) & mask
			r.PPU.BGHOFS[bg] = (r.PPU.BGHOFS[bg] & ^mask) | value
		}
		if mask := r.getMask16(0x12 + uint32(bg)*4); mask != 0 { // BGxVOFS
			value := r.readBuffer16(0x12+uint32(bg)*4) & mask
			r.PPU.BGVOFS[bg] = (r.PPU.BGVOFS[bg] & ^mask) | value
		}
	}
	r.commitReg(0x28, 4, &r.PPU.RefPoint[0]) // BG2X
	r.commitReg(0x2C, 4, &r.PPU.RefPoint[1]) // BG2Y
	r.commitReg(0x38, 4, &r.PPU.RefPoint[2]) // BG3X
	r.commitReg(0x3C, 4, &r.PPU.RefPoint[3]) // BG3Y
	r.commitReg(0x40, 2, &r.PPU.WinRange[0]) // WIN0H
	r.commitReg(0x42, 2, &r.PPU.WinRange[1]) // WIN1H
	r.commitReg(0x44, 2, &r.PPU.WinRange[2]) // WIN0V
	r.commitReg(0x46, 2, &r.PPU.WinRange[3]) // WIN1V
	r.commitReg(0x48, 2, &r.PPU.WinIn)
	r.commitReg(0x4A, 2, &r.PPU.WinOut)
	r.commitReg(0x50, 2, &r.PPU.BLDCNT)
	if mask := r.getMask32(0xB0); mask != 0 { // DMA0SAD
		value := r.readBuffer32(0xB0) & mask
		r.DMA[0].SAD = (r.DMA[0].SAD & ^mask) | value
	}
	if mask := r.getMask32(0xBC); mask != 0 { // DMA1SAD
		value := r.readBuffer32(0xBC) & mask
		r.DMA[1].SAD = (r.DMA[1].SAD & ^mask) | value
	}
	if mask := r.getMask32(0xC8); mask != 0 { // DMA2SAD
		value := r.readBuffer32(0xC8) & mask
		r.DMA[2].SAD = (r.DMA[2].SAD & ^mask) | value
	}
	if mask := r.getMask32(0xD4); mask != 0 { // DMA3SAD
		value := r.readBuffer32(0xD4) & mask
		r.DMA[3].SAD = (r.DMA[3].SAD & ^mask) | value
	}
	if mask := r.getMask32(0xB4); mask != 0 { // DMA0DAD
		value := r.readBuffer32(0xB4) & mask
		r.DMA[0].DAD = (r.DMA[0].DAD & ^mask) | value
	}
	if mask := r.getMask32(0xC0); mask != 0 { // DMA1DAD
		value := r.readBuffer32(0xC0) & mask
		r.DMA[1].DAD = (r.DMA[1].DAD & ^mask) | value
	}
	if mask := r.getMask32(0xCC); mask != 0 { // DMA2DAD
		value := r.readBuffer32(0xCC) & mask
		r.DMA[2].DAD = (r.DMA[2].DAD & ^mask) | value
	}
	if mask := r.getMask32(0xD8); mask != 0 { // DMA3DAD
		value := r.readBuffer32(0xD8) & mask
		r.DMA[3].DAD = (r.DMA[3].DAD & ^mask) | value
	}
	if mask := r.getMask16(0xB8); mask != 0 { // DMA0CNT_L
		value := r.readBuffer16(0xB8) & mask
		r.DMA[0].CNT_L = (r.DMA[0].CNT_L & ^mask) | value
	}
	if mask := r.getMask16(0xC4); mask != 0 { // DMA1CNT_L
		value := r.readBuffer16(0xC4) & mask
		r.DMA[1].CNT_L = (r.DMA[1].CNT_L & ^mask) | value
	}
	if mask := r.getMask16(0xD0); mask != 0 { // DMA2CNT_L
		value := r.readBuffer16(0xD0) & mask
		r.DMA[2].CNT_L = (r.DMA[2].CNT_L & ^mask) | value
	}
	if mask := r.getMask16(0xDC); mask != 0 { // DMA3CNT_L
		value := r.readBuffer16(0xDC) & mask
		r.DMA[3].CNT_L = (r.DMA[3].CNT_L & ^mask) | value
	}
	if mask := r.getMask16(0xBA); mask != 0 { // DMA0CNT_H
		value := r.readBuffer16(0xBA) & mask
		r.DMA[0].SetCNT_H((r.DMA[0].CNT_H & ^mask) | value)
	}
	if mask := r.getMask16(0xC6); mask != 0 { // DMA1CNT_H
		value := r.readBuffer16(0xC6) & mask
		r.DMA[1].SetCNT_H((r.DMA[1].CNT_H & ^mask) | value)
	}
	if mask := r.getMask16(0xD2); mask != 0 { // DMA2CNT_H
		value := r.readBuffer16(0xD2) & mask
		r.DMA[2].SetCNT_H((r.DMA[2].CNT_H & ^mask) | value)
	}
	if mask := r.getMask16(0xDE); mask != 0 { // DMA3CNT_H
		value := r.readBuffer16(0xDE) & mask
		r.DMA[3].SetCNT_H((r.DMA[3].CNT_H & ^mask) | value)
	}
	if mask := r.getMask16(0x200); mask != 0 { // IE
		value := r.readBuffer16(0x200) & mask
		r.IRQ.IE = (r.IRQ.IE & ^mask) | value
	}
	if mask := r.getMask16(0x202); mask != 0 { // IF
		value := r.readBuffer16(0x202) & mask
		r.IRQ.IF &= ^value
	}
	if mask := r.getMask16(0x208); mask != 0 { // IME
		value := r.readBuffer16(0x208) & mask
		r.IRQ.IME = (r.IRQ.IME & ^mask) | value
	}
	r.shouldCommit = false
	for i := 0; i < 0x400; i++ {
		r.changed[i] = false
	}
}
