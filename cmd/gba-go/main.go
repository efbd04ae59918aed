package main

import (
	"flag"
	"image"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"

	"github.com/tharmok/gba-thumb-core/pkg/emulator"
)

const (
	screenWidth  = 240
	screenHeight = 160
	scaleFactor  = 3
)

// Game drives a pkg/emulator.GBA one host frame at a time and blits its
// PPU framebuffer through ebiten, the same Game shape the teacher's
// stub used, generalized from a static debug string to an actual
// running emulator.
type Game struct {
	gba   *emulator.GBA
	image *ebiten.Image
}

func (g *Game) Update() error {
	g.gba.Update()
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	rgba := image.NewRGBA(image.Rect(0, 0, screenWidth, screenHeight))
	copy(rgba.Pix, g.gba.PPU.GetFrameBuffer())
	g.image.WritePixels(rgba.Pix)
	screen.DrawImage(g.image, nil)

	ebitenutil.DebugPrintAt(screen, modeLine(g.gba), 4, 4)
}

func modeLine(gba *emulator.GBA) string {
	mode := "ARM"
	if gba.CPU.IsThumb() {
		mode = "THUMB"
	}
	return mode
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

func main() {
	bios := flag.String("bios", "", "path to a GBA BIOS image")
	rom := flag.String("rom", "", "path to a GBA ROM image")
	flag.Parse()

	gba := emulator.NewGBA()

	if *bios != "" {
		data, err := os.ReadFile(*bios)
		if err != nil {
			log.Fatal(err)
		}
		if err := gba.LoadBIOS(data); err != nil {
			log.Fatal(err)
		}
	}
	if *rom != "" {
		data, err := os.ReadFile(*rom)
		if err != nil {
			log.Fatal(err)
		}
		if err := gba.LoadROM(data); err != nil {
			log.Fatal(err)
		}
	}
	gba.Start()

	game := &Game{
		gba:   gba,
		image: ebiten.NewImage(screenWidth, screenHeight),
	}

	ebiten.SetWindowSize(screenWidth*scaleFactor, screenHeight*scaleFactor)
	ebiten.SetWindowTitle("GBA Emulator")
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
