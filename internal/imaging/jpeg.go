package imaging

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/CZERTAINLY/scand/internal/model"
)

const DefaultQuality = 90

// JPEG converts the raw BMP captured from a scanner into a RGB JPEG.
type JPEG struct {
	quality  int
	maxWidth int
}

func NewJPEG(cfg model.Encoder) JPEG {
	q := cfg.Quality
	if q < 1 || q > 100 {
		q = DefaultQuality
	}
	return JPEG{quality: q, maxWidth: cfg.MaxWidth}
}

// Encode reads a BMP from raw and writes the JPEG to dst. Decoding and
// encoding run in their own goroutine. Once ctx is done its reads and writes
// fail, and Encode returns only after the goroutine has stopped.
func (e JPEG) Encode(ctx context.Context, dst io.Writer, raw io.Reader) error {
	resCh := make(chan error, 1)

	go func() {
		img, err := bmp.Decode(ctxReader{ctx: ctx, r: raw})
		if err != nil {
			resCh <- fmt.Errorf("decoding bmp: %w", err)
			return
		}
		if err := ctx.Err(); err != nil {
			resCh <- err
			return
		}
		resCh <- jpeg.Encode(ctxWriter{ctx: ctx, w: dst}, e.flatten(img), &jpeg.Options{Quality: e.quality})
	}()

	select {
	case <-ctx.Done():
		<-resCh
		return ctx.Err()
	case err := <-resCh:
		return err
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (w ctxWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// flatten draws img over a white background, scaled down to maxWidth when
// it is wider.
func (e JPEG) flatten(img image.Image) *image.RGBA {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if e.maxWidth > 0 && w > e.maxWidth {
		h = max(1, h*e.maxWidth/w)
		w = e.maxWidth
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(out, out.Bounds(), img, src.Min, draw.Over)
		return out
	}
	draw.CatmullRom.Scale(out, out.Bounds(), img, src, draw.Over, nil)
	return out
}
