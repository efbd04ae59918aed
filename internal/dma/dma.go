package dma

import (
	"github.com/tharmok/gba-thumb-core/internal/irq"
	"github.com/tharmok/gba-thumb-core/internal/memory"
)

// Status tracks whether a channel is idle or armed and waiting for its
// configured start condition to fire.
type Status int

const (
	Idle Status = iota
	Wait
)

// Cond is the DMA start-timing field (CNT_H bits 12-13).
type Cond int

const (
	Immediate Cond = iota
	VBlank
	HBlank
	SoundFIFO
)

type Channel struct {
	index  int
	SAD    uint32
	DAD    uint32
	CNT_L  uint16
	CNT_H  uint16
	Status Status
	Cond   Cond
	memory memory.Memory
	irq    *irq.IRQ
}

func NewChannel(index int, memory memory.Memory, irq *irq.IRQ) *Channel {
	return &Channel{
		index:  index,
		memory: memory,
		irq:    irq,
	}
}

func (ch *Channel) SetCNT_H(value uint16) {
	wasEnabled := (ch.CNT_H & (1 << 15)) != 0
	ch.CNT_H = value
	ch.Cond = Cond((value >> 12) & 0x3)
	enabled := (value & (1 << 15)) != 0
	if enabled && !wasEnabled {
		ch.Status = Wait
	} else if !enabled {
		ch.Status = Idle
	}
}

// Step arms immediate-timing transfers; VBlank/HBlank/SoundFIFO-timed
// transfers are kicked off by the PPU/APU calling Trigger directly when
// their condition occurs.
func (ch *Channel) Step() {
	if ch.Status == Wait && ch.Cond == Immediate {
		ch.Trigger()
	}
}

func (ch *Channel) Trigger() {
	src := ch.SAD
	if ch.index == 0 {
		src &= 0x7FFFFFF
	} else {
		src &= 0xFFFFFFF
	}

	dst := ch.DAD
	if ch.index < 3 {
		dst &= 0x7FFFFFF
	} else {
		dst &= 0xFFFFFFF
	}

	var wordSize uint32
	if (ch.CNT_H & (1 << 10)) == 0 {
		wordSize = 2
	} else {
		wordSize = 4
	}

	wordCount := int(ch.CNT_L)
	if wordCount == 0 {
		if ch.index < 3 {
			wordCount = 0x4000
		} else {
			wordCount = 0x10000
		}
	}

	for i := 0; i < wordCount; i++ {
		if wordSize == 2 {
			value := ch.memory.Read16(src)
			ch.memory.Write16(dst, value)
		} else {
			value := ch.memory.Read32(src)
			ch.memory.Write32(dst, value)
		}
		// Source Addr Control
		switch (ch.CNT_H >> 7) & 0x3 {
		case 0: // Increment
			src += wordSize
		case 1: // Decrement
			src -= wordSize
		}
		// Dest Addr Control
		switch (ch.CNT_H >> 5) & 0x3 {
		case 0: // Increment
			dst += wordSize
		case 1: // Decrement
			dst -= wordSize
		}
	}

	ch.Status = Idle
	if (ch.CNT_H & (1 << 9)) == 0 { // not repeat
		ch.CNT_H &= 0x7FFF
	} else {
		ch.Status = Wait
	}

	if (ch.CNT_H & (1 << 14)) != 0 {
		ch.irq.IF |= 1 << (8 + ch.index)
	}
}
