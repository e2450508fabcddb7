// Package filename resolves the download name of a finished output image
// from its variant's pattern or prefix/suffix settings.
package filename

import (
	"path/filepath"
	"strings"

	"github.com/dunamismax/variantforge/internal/domain"
)

// Resolve computes the filename for out. The extension always comes from the
// input filename and is rewritten to .jpg when lossy quality forced JPEG.
func Resolve(variant domain.Variant, out domain.OutputImage) string {
	ext := filepath.Ext(out.Input.Filename)
	stem := strings.TrimSuffix(out.Input.Filename, ext)

	var base string
	if variant.Pattern != "" {
		base = Render(Tokenize(variant.Pattern), Values{
			Stem:   stem,
			Index:  out.Input.Index,
			Width:  out.Width,
			Height: out.Height,
		})
	} else {
		base = variant.Prefix + stem + variant.Suffix
	}

	name := base + ext
	if out.JPEGForced() {
		name = ToJPG(name)
	}
	return name
}

// ToJPG replaces the extension of name with .jpg, appending one when missing.
func ToJPG(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}
