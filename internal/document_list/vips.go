package document_list

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
)

// VipsPageCount opens the first page of a PDF or TIFF and reads the page
// count from its header.
func VipsPageCount(path string) (int, error) {
	var (
		image *vips.Image
		err   error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		opts := vips.DefaultPdfloadOptions()
		opts.Access = vips.AccessSequential
		image, err = vips.NewPdfload(path, opts)
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = vips.AccessSequential
		image, err = vips.NewTiffload(path, opts)
	default:
		return 0, fmt.Errorf("unsupported document format: %s", ext)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open document: %w", err)
	}
	defer image.Close()

	return image.Pages(), nil
}
