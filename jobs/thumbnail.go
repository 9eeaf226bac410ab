package jobs

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	xdraw "golang.org/x/image/draw"

	"github.com/clinimage/imagingd/records"
)

// Thumbnailer renders JPEG previews from stored instances. Failures
// are logged and leave the image without a thumbnail; the job can be
// replayed from the file at any time.
type Thumbnailer struct {
	store  *records.Store
	dir    string
	size   int
	logger zerolog.Logger
}

// NewThumbnailer creates a thumbnailer writing previews under dir with
// the given longest-side pixel size.
func NewThumbnailer(store *records.Store, dir string, size int, logger zerolog.Logger) *Thumbnailer {
	return &Thumbnailer{store: store, dir: dir, size: size, logger: logger}
}

// Job wraps thumbnail generation for one stored instance.
func (t *Thumbnailer) Job(imageID uuid.UUID, sopInstanceUID, filePath string) Job {
	return Func{
		JobName: "thumbnail " + sopInstanceUID,
		Fn: func(ctx context.Context) error {
			return t.Generate(ctx, imageID, sopInstanceUID, filePath)
		},
	}
}

// Generate decodes the first frame of the stored file, downscales it
// and records the thumbnail path on the image row.
func (t *Thumbnailer) Generate(ctx context.Context, imageID uuid.UUID, sopInstanceUID, filePath string) error {
	src, err := firstFrameImage(filePath)
	if err != nil {
		return fmt.Errorf("decode %s: %w", sopInstanceUID, err)
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}

	thumbPath := filepath.Join(t.dir, sopInstanceUID+".jpg")
	out, err := os.Create(thumbPath)
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, downscale(src, t.size), &jpeg.Options{Quality: 85}); err != nil {
		os.Remove(thumbPath)
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(thumbPath)
		return fmt.Errorf("write thumbnail: %w", err)
	}

	if err := t.store.Images.SetThumbnailPath(ctx, imageID, thumbPath); err != nil {
		return fmt.Errorf("record thumbnail path: %w", err)
	}

	t.logger.Debug().Str("sop_instance_uid", sopInstanceUID).Str("path", thumbPath).Msg("thumbnail written")
	return nil
}

// firstFrameImage parses the stored Part 10 file and decodes its first
// pixel data frame.
func firstFrameImage(filePath string) (image.Image, error) {
	ds, err := dicom.ParseFile(filePath, nil)
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value type %T", el.Value.GetValue())
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("pixel data has no frames")
	}

	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// downscale scales the image so its longest side is max pixels,
// preserving aspect ratio. Smaller images pass through unchanged.
func downscale(src image.Image, max int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= max && h <= max {
		return src
	}

	var dw, dh int
	if w >= h {
		dw = max
		dh = h * max / w
	} else {
		dh = max
		dw = w * max / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}
