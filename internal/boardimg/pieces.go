package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// piece outlines on a 45x45 grid
var pieceShapes = map[nchess.PieceType][]string{
	nchess.Pawn: {
		`<path d="M 15 35 L 30 35 L 26 24 L 19 24 Z"/>`,
		`<circle cx="22.5" cy="18" r="6"/>`,
	},
	nchess.Rook: {
		`<path d="M 13 35 L 32 35 L 30 17 L 15 17 Z"/>`,
		`<path d="M 12 17 L 33 17 L 33 10 L 29 10 L 29 13 L 25 13 L 25 10 L 20 10 L 20 13 L 16 13 L 16 10 L 12 10 Z"/>`,
	},
	nchess.Knight: {
		`<path d="M 14 35 L 31 35 C 31 25 29 14 22 10 L 20 7 L 18 11 C 13 14 10 19 11 23 L 15 24 L 19 20 C 17 26 14 29 14 35 Z"/>`,
	},
	nchess.Bishop: {
		`<path d="M 15 35 L 30 35 L 27 29 L 18 29 Z"/>`,
		`<ellipse cx="22.5" cy="21" rx="6.5" ry="9"/>`,
		`<circle cx="22.5" cy="9" r="2.5"/>`,
	},
	nchess.Queen: {
		`<path d="M 11 35 L 34 35 L 37 14 L 30 26 L 28 11 L 22.5 25 L 17 11 L 15 26 L 8 14 Z"/>`,
		`<circle cx="8" cy="12" r="2"/>`,
		`<circle cx="17" cy="9" r="2"/>`,
		`<circle cx="28" cy="9" r="2"/>`,
		`<circle cx="37" cy="12" r="2"/>`,
	},
	nchess.King: {
		`<path d="M 12 35 L 33 35 L 35 22 C 30 17 15 17 10 22 Z"/>`,
		`<path d="M 21 6 L 24 6 L 24 10 L 28 10 L 28 13 L 24 13 L 24 18 L 21 18 L 21 13 L 17 13 L 17 10 L 21 10 Z"/>`,
	},
}

const pieceBase = `<path d="M 9 39 L 36 39 L 36 35 L 9 35 Z"/>`

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shapes, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#262626", "#0a0a0a"
	}
	style := fmt.Sprintf(` fill="%s" stroke="%s" stroke-width="1.5"/>`, fill, stroke)

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	for _, s := range append([]string{pieceBase}, shapes...) {
		b.WriteString(strings.Replace(s, "/>", style, 1))
	}
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

type pieceCache struct {
	mu    sync.RWMutex
	items map[pieceCacheKey]image.Image
}

func (c *pieceCache) image(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	c.mu.RLock()
	if img, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	c.mu.Lock()
	if c.items == nil {
		c.items = map[pieceCacheKey]image.Image{}
	}
	c.items[key] = img
	c.mu.Unlock()
	return img, nil
}
