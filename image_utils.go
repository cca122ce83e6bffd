package cytoconv

import (
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}

// imageSize returns the pixel width and height of the image at path.
//
// With verifyPixels the whole pixel payload is decoded, so that truncated or corrupt images are
// rejected. Otherwise only the header is read.
func imageSize(path string, verifyPixels bool) (width, height int, err error) {
	if !verifyPixels {
		cfg, _, err := decodeImageConfig(path)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to decode the image header: %w", err)
		}
		return cfg.Width, cfg.Height, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode the image: %w", err)
	}
	b := img.Bounds()

	return b.Dx(), b.Dy(), nil
}

// readFile reads the whole file at path.
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
