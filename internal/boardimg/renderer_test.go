package boardimg

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-Arena/internal/domain"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func sameRGB(a, b color.Color) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	return ar == br && ag == bg && ab == bb
}

func TestRenderStartPosition(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderPNG(context.Background(), startFEN, Options{Header: "kim vs me", Footer: "05:00 | 05:00"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img := decode(t, out)
	want := 64*8 + margin*2
	if img.Bounds().Dx() != want {
		t.Fatalf("width = %d, want %d", img.Bounds().Dx(), want)
	}

	// a6 is empty and light
	a6 := squareRect(0, 5, 64, image.Point{X: margin, Y: margin + bannerSpace}, false)
	center := img.At(a6.Min.X+32, a6.Min.Y+32)
	if !sameRGB(center, lightSquare) {
		t.Fatalf("a6 color = %v", center)
	}
}

func TestFlippedPerspective(t *testing.T) {
	origin := image.Point{X: margin, Y: margin + bannerSpace}
	white := squareRect(0, 0, 64, origin, false)
	black := squareRect(0, 0, 64, origin, true)
	if white.Min.Y <= black.Min.Y || white.Min.X >= black.Min.X {
		t.Fatalf("a1 white=%v black=%v", white, black)
	}

	mv := domain.Move{From: "e2", To: "e4"}
	if _, err := NewRenderer().RenderPNG(context.Background(), startFEN, Options{Perspective: domain.Second, LastMove: &mv}); err != nil {
		t.Fatalf("render flipped: %v", err)
	}
}

func TestRenderRejectsGarbage(t *testing.T) {
	if _, err := NewRenderer().RenderPNG(context.Background(), "not a board", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPieceSVGParses(t *testing.T) {
	var c pieceCache
	for _, p := range []nchess.Piece{nchess.WhiteKing, nchess.BlackQueen, nchess.WhiteKnight, nchess.BlackPawn} {
		img, err := c.image(p, 48)
		if err != nil {
			t.Fatalf("piece %v: %v", p, err)
		}
		if img.Bounds().Dx() != 48 {
			t.Fatalf("piece size = %d", img.Bounds().Dx())
		}
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRenderer().RenderPNG(ctx, startFEN, Options{}); err == nil {
		t.Fatal("expected context error")
	}
}
