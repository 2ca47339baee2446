package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

var ErrUnsupportedImage = errors.New("unsupported image")

type Processor interface {
	// Process decodes srcPath and returns it resized and encoded in the
	// format implied by dstName's extension.
	Process(ctx context.Context, srcPath, dstName string) ([]byte, error)
}

type ImagingProcessor struct {
	width  int
	height int
}

func NewImagingProcessor(width, height int) *ImagingProcessor {
	if width <= 0 {
		width = 250
	}
	if height <= 0 {
		height = 250
	}
	return &ImagingProcessor{width: width, height: height}
}

func (p *ImagingProcessor) Process(ctx context.Context, srcPath, dstName string) ([]byte, error) {
	format, err := imaging.FormatFromFilename(dstName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, dstName)
	}

	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resized := imaging.Resize(img, p.width, p.height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}

	return buf.Bytes(), nil
}
