package repair

import (
	"github.com/Skryldev/image-compressor/core"
	"github.com/Skryldev/image-compressor/utils"
)

// minImageBytes is the smallest size a real image file can plausibly have.
const minImageBytes = 100

// Diagnosis is a structural assessment of raw source bytes.  It never
// decodes pixels.
type Diagnosis struct {
	Size           int
	FormatDetected core.Format
	// Plausible is false when the bytes cannot be an intact image.
	Plausible   bool
	Problem     string
	Suggestions []string
}

// Diagnose inspects raw for the common failure signatures and returns
// human-readable suggestions for a failed result.
func Diagnose(raw []byte) Diagnosis {
	d := Diagnosis{Size: len(raw), FormatDetected: core.Format(utils.DetectFormat(raw))}

	switch {
	case len(raw) == 0:
		d.Problem = "File is empty (0 bytes)"
		d.Suggestions = []string{"Re-download or recreate the file"}
		return d
	case len(raw) < minImageBytes:
		d.Problem = "File too small to be a valid image"
		d.Suggestions = []string{"File may be corrupted or truncated"}
		return d
	case d.FormatDetected == core.FormatUnknown:
		d.Problem = "Cannot identify image format"
		d.Suggestions = []string{
			"File may not be a valid image",
			"Check file extension matches content",
			"Try opening in image viewer first",
		}
		return d
	}

	if d.FormatDetected == core.FormatJPEG && !utils.HasJPEGEOI(raw) {
		d.Problem = "Image file is truncated"
		d.Suggestions = []string{
			"Download was incomplete",
			"File transfer was interrupted",
			"Re-download the original file",
		}
		return d
	}
	if d.FormatDetected == core.FormatPNG {
		if _, truncated, err := utils.ParsePNGChunks(raw); err == nil && truncated {
			d.Problem = "Image file is truncated"
			d.Suggestions = []string{
				"Download was incomplete",
				"File transfer was interrupted",
				"Re-download the original file",
			}
			return d
		}
	}

	d.Plausible = true
	return d
}

// FailureSuggestions returns the suggestions to attach to a load failure:
// the structural diagnosis plus a generic hint for broken data streams.
func FailureSuggestions(raw []byte, repairAttempted bool) []string {
	d := Diagnose(raw)
	out := append([]string(nil), d.Suggestions...)
	if d.Plausible {
		out = append(out,
			"The image data stream is corrupted",
			"Try re-downloading the original image",
			"Convert with another tool first",
		)
	}
	if repairAttempted {
		out = append(out, "Automatic repair was attempted but failed")
	} else {
		out = append(out, "Enable auto-repair to attempt recovery")
	}
	return out
}
