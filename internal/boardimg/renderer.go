package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/Cheese-Arena/internal/domain"
)

type Options struct {
	// Perspective puts this side at the bottom; empty means First.
	Perspective domain.Side
	LastMove    *domain.Move
	Premove     *domain.Move
	Header      string
	Footer      string
}

// Renderer draws a position string to PNG.
type Renderer struct {
	SquareSize int
	pieces     pieceCache
}

func NewRenderer() *Renderer { return &Renderer{SquareSize: 64} }

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	lastMoveFill    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	premoveFill     = color.NRGBA{R: 148, G: 207, B: 255, A: 150}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	textColor       = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordColor      = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

const (
	margin      = 28
	bannerSpace = 24
)

func (r *Renderer) RenderPNG(ctx context.Context, position string, opts Options) ([]byte, error) {
	board, err := parseBoard(position)
	if err != nil {
		return nil, err
	}
	size := r.SquareSize
	if size <= 0 {
		size = 64
	}
	flip := opts.Perspective == domain.Second

	boardSize := size * 8
	origin := image.Point{X: margin, Y: margin + bannerSpace}
	img := image.NewRGBA(image.Rect(0, 0, boardSize+margin*2, boardSize+margin*2+bannerSpace*2))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	drawSquares(img, size, origin, flip)
	overlayMove(img, opts.LastMove, size, origin, flip, lastMoveFill)
	overlayMove(img, opts.Premove, size, origin, flip, premoveFill)
	if err := r.drawPieces(img, board, size, origin, flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, size, origin, flip)
	drawBanner(img, opts.Header, margin+bannerSpace/2)
	drawBanner(img, opts.Footer, origin.Y+boardSize+margin+bannerSpace/2)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func parseBoard(position string) (*nchess.Board, error) {
	opt, err := nchess.FEN(strings.TrimSpace(position))
	if err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

// squareRect maps file/rank (0..7) to pixels, flipped for the second side.
func squareRect(file, rank, size int, origin image.Point, flip bool) image.Rectangle {
	col, row := file, 7-rank
	if flip {
		col, row = 7-file, rank
	}
	x := origin.X + col*size
	y := origin.Y + row*size
	return image.Rect(x, y, x+size, y+size)
}

func drawSquares(dst imagedraw.Image, size int, origin image.Point, flip bool) {
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			clr := lightSquare
			if (file+rank)%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, squareRect(file, rank, size, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func (r *Renderer) drawPieces(dst imagedraw.Image, board *nchess.Board, size int, origin image.Point, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := r.pieces.image(piece, size)
		if err != nil {
			return err
		}
		rect := squareRect(int(sq.File()), int(sq.Rank()), size, origin, flip)
		imagedraw.Draw(dst, rect, img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func overlayMove(dst imagedraw.Image, mv *domain.Move, size int, origin image.Point, flip bool, clr color.Color) {
	if mv == nil {
		return
	}
	for _, sq := range []string{mv.From, mv.To} {
		file, rank, ok := squareIndex(sq)
		if !ok {
			continue
		}
		imagedraw.Draw(dst, squareRect(file, rank, size, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Over)
	}
}

func squareIndex(sq string) (file, rank int, ok bool) {
	if len(sq) != 2 {
		return 0, 0, false
	}
	file, rank = int(sq[0]-'a'), int(sq[1]-'1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, 0, false
	}
	return file, rank, true
}

func drawCoordinates(dst imagedraw.Image, size int, origin image.Point, flip bool) {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13, Src: image.NewUniform(coordColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		rect := squareRect(i, i, size, origin, flip)
		drawCenteredText(drawer, string(rune('a'+i)), rect.Min.X+size/2, origin.Y+size*8+ascent+4)
		drawCenteredText(drawer, string(rune('1'+i)), origin.X-margin/2, rect.Min.Y+size/2+ascent/2)
	}
}

func drawBanner(dst imagedraw.Image, text string, baseline int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13, Src: image.NewUniform(textColor)}
	drawCenteredText(drawer, text, dst.Bounds().Dx()/2, baseline)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}
