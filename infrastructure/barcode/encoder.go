// Package barcode provides the label image encoder. The domain talks to
// the Encoder interface only; QREncoder is the default implementation.
package barcode

import (
	"bytes"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// Encoder turns a content string into an encoded image.
type Encoder interface {
	Encode(text string) ([]byte, error)
}

const (
	// maxInputChars bounds encoder input; longer content is truncated
	// rather than producing an unscannable dense code.
	maxInputChars = 500
	// maxEncodedBytes rejects oversized encoder output (~75KB).
	maxEncodedBytes = 75000
)

// QREncoder renders QR codes as PNG.
type QREncoder struct {
	Size int
}

// NewQREncoder returns an encoder producing size x size pixel codes.
func NewQREncoder(size int) *QREncoder {
	if size <= 0 {
		size = 256
	}
	return &QREncoder{Size: size}
}

func (e *QREncoder) Encode(text string) ([]byte, error) {
	code, err := qr.Encode(text, qr.L, qr.Auto)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, e.Size, e.Size)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := png.Encode(&out, toNRGBA(scaled)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeLabelImage applies the label image policy around an encoder:
// input is trimmed and truncated to a bounded length, failures and
// oversized output degrade to no image instead of failing the caller.
func EncodeLabelImage(enc Encoder, text string) []byte {
	if enc == nil {
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) > maxInputChars {
		slog.Warn("label content truncated for encoding", slog.Int("len", len(text)))
		text = text[:maxInputChars]
	}
	img, err := enc.Encode(text)
	if err != nil {
		slog.Warn("label encoding failed, continuing without image", slog.Any("err", err))
		return nil
	}
	if len(img) > maxEncodedBytes {
		slog.Warn("encoded label too large, skipping", slog.Int("bytes", len(img)))
		return nil
	}
	return img
}

func toNRGBA(src image.Image) *image.NRGBA {
	bounds := src.Bounds()
	dst := image.NewNRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	return dst
}
