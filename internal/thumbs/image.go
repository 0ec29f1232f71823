package thumbs

import (
	"bytes"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// generateImage produces a downscaled copy of an image file. With libvips
// available the whole pipeline runs in vips, which shrinks during decode;
// otherwise imaging decodes the full image and resizes in Go.
func (s *Store) generateImage(srcPath, thumbPath string) error {
	if s.cfg.Format == "webp" && IsVipsAvailable() {
		return s.generateImageVips(srcPath, thumbPath)
	}

	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", srcPath, err)
	}
	return s.encodeFrame(s.resize(img), thumbPath)
}

func (s *Store) generateImageVips(srcPath, thumbPath string) error {
	// SizeDown caps at the source size: thumbnails never enlarge.
	ref, err := vips.NewThumbnailWithSizeFromFile(srcPath, s.cfg.Width, s.cfg.Width*10,
		vips.InterestingNone, vips.SizeDown)
	if err != nil {
		return fmt.Errorf("vips failed to load %s: %w", srcPath, err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = s.cfg.Quality
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("vips webp export failed for %s: %w", srcPath, err)
	}
	return s.writeAtomic(thumbPath, data)
}

// resize scales to the configured width preserving aspect ratio, leaving
// smaller sources untouched.
func (s *Store) resize(img image.Image) image.Image {
	if img.Bounds().Dx() <= s.cfg.Width {
		return img
	}
	return imaging.Resize(img, s.cfg.Width, 0, imaging.Lanczos)
}

// encodeFrame writes a decoded frame in the configured output format.
// webp goes through vips via a lossless PNG intermediate; Store construction
// guarantees vips is available whenever webp is configured.
func (s *Store) encodeFrame(img image.Image, thumbPath string) error {
	var buf bytes.Buffer

	switch s.cfg.Format {
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return fmt.Errorf("png encode failed: %w", err)
		}
	case "webp":
		var png bytes.Buffer
		if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
			return fmt.Errorf("intermediate png encode failed: %w", err)
		}
		ref, err := vips.NewImageFromBuffer(png.Bytes())
		if err != nil {
			return fmt.Errorf("vips failed to load frame: %w", err)
		}
		defer ref.Close()

		params := vips.NewWebpExportParams()
		params.Quality = s.cfg.Quality
		data, _, err := ref.ExportWebp(params)
		if err != nil {
			return fmt.Errorf("vips webp export failed: %w", err)
		}
		buf.Write(data)
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.cfg.Quality)); err != nil {
			return fmt.Errorf("jpeg encode failed: %w", err)
		}
	}

	return s.writeAtomic(thumbPath, buf.Bytes())
}
