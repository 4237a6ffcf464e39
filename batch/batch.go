// Package batch turns command-line inputs into compression tasks: it
// collects image files from paths, directories and glob patterns, and
// derives each file's output path.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Skryldev/image-compressor/core"
)

// DefaultExtensions are the source extensions collected when no filter is set.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".tif", ".tiff", ".bmp", ".gif"}

// CollectOptions filters the files Collect returns.
type CollectOptions struct {
	Recursive bool
	// Extensions, with or without the leading dot; empty means DefaultExtensions.
	Extensions []string
	// MinBytes and MaxBytes bound the file size; 0 disables the bound.
	MinBytes int64
	MaxBytes int64
}

// Collect expands inputs into a sorted, de-duplicated list of image files.
// An input may be a file, a directory (walked only one level unless
// Recursive) or a glob pattern.  Inputs that match nothing are ignored.
func Collect(inputs []string, opts CollectOptions) ([]string, error) {
	exts := normaliseExtensions(opts.Extensions)
	seen := make(map[string]struct{})
	var files []string

	add := func(path string) {
		if !exts[strings.ToLower(filepath.Ext(path))] {
			return
		}
		if !sizeOK(path, opts) {
			return
		}
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, in := range inputs {
		fi, err := os.Stat(in)
		switch {
		case err == nil && fi.IsDir():
			if err := walk(in, opts.Recursive, add); err != nil {
				return nil, err
			}
		case err == nil:
			add(in)
		default:
			matches, gerr := filepath.Glob(in)
			if gerr != nil {
				return nil, fmt.Errorf("batch: bad pattern %q: %w", in, gerr)
			}
			for _, m := range matches {
				if mi, err := os.Stat(m); err == nil && !mi.IsDir() {
					add(m)
				}
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

func walk(root string, recursive bool, add func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			add(path)
		}
		return nil
	})
}

func sizeOK(path string, opts CollectOptions) bool {
	if opts.MinBytes <= 0 && opts.MaxBytes <= 0 {
		return true
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	if opts.MinBytes > 0 && fi.Size() < opts.MinBytes {
		return false
	}
	if opts.MaxBytes > 0 && fi.Size() > opts.MaxBytes {
		return false
	}
	return true
}

func normaliseExtensions(in []string) map[string]bool {
	if len(in) == 0 {
		in = DefaultExtensions
	}
	out := make(map[string]bool, len(in)+2)
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	// jpg/jpeg and tif/tiff are the same format.
	if out[".jpg"] || out[".jpeg"] {
		out[".jpg"], out[".jpeg"] = true, true
	}
	if out[".tif"] || out[".tiff"] {
		out[".tif"], out[".tiff"] = true, true
	}
	return out
}

// OutputOptions controls OutputPath.
type OutputOptions struct {
	// Dir is the output directory; empty writes next to the input.
	Dir string
	// Suffix is appended to the file stem, e.g. "_compressed".
	Suffix string
	// Format replaces the extension; empty keeps the input's.
	Format core.Format
	// BaseDir, when set together with Dir, mirrors the input's path
	// relative to BaseDir under Dir.
	BaseDir string
}

// OutputPath derives the destination for input.  With no Dir, Suffix or
// Format the result is input itself, so the source is replaced in place.
func OutputPath(input string, o OutputOptions) (string, error) {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(filepath.Base(input), ext)
	if o.Format != "" {
		ext = o.Format.Extension()
	}
	name := stem + o.Suffix + ext

	dir := filepath.Dir(input)
	if o.Dir != "" {
		dir = o.Dir
		if o.BaseDir != "" {
			rel, err := filepath.Rel(o.BaseDir, filepath.Dir(input))
			if err != nil || strings.HasPrefix(rel, "..") {
				return "", fmt.Errorf("batch: %s is outside %s", input, o.BaseDir)
			}
			dir = filepath.Join(o.Dir, rel)
		}
	}
	return filepath.Join(dir, name), nil
}

// Assign derives a destination for every input with OutputPath and makes
// the destinations pairwise distinct.  A destination that could land on
// another input's destination, or on another input itself, gets a numeric
// suffix (_1, _2, ...).  For read-only formats every path the output may be
// renamed to on write is reserved.  Paths compare case-insensitively.
func Assign(inputs []string, o OutputOptions) ([]string, error) {
	sources := make(map[string]int, len(inputs))
	for i, in := range inputs {
		sources[pathKey(in)] = i
	}

	taken := make(map[string]bool)
	out := make([]string, len(inputs))
	for i, in := range inputs {
		dest, err := OutputPath(in, o)
		if err != nil {
			return nil, err
		}
		ext := filepath.Ext(dest)
		stem := strings.TrimSuffix(dest, ext)
		for n := 1; !free(writtenPaths(dest), i, sources, taken); n++ {
			dest = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		for _, p := range writtenPaths(dest) {
			taken[pathKey(p)] = true
		}
		out[i] = dest
	}
	return out, nil
}

// writtenPaths lists every path output for dest may be written to.  A kept
// read-only format is re-encoded as PNG or JPEG.
func writtenPaths(dest string) []string {
	if !core.ReadOnlyExtension(filepath.Ext(dest)) {
		return []string{dest}
	}
	return []string{core.WrittenPath(dest, core.FormatPNG), core.WrittenPath(dest, core.FormatJPEG)}
}

func free(paths []string, self int, sources map[string]int, taken map[string]bool) bool {
	for _, p := range paths {
		k := pathKey(p)
		if taken[k] {
			return false
		}
		if owner, ok := sources[k]; ok && owner != self {
			return false
		}
	}
	return true
}

func pathKey(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return strings.ToLower(filepath.Clean(p))
}

// EnsureDirs creates the parent directories of every path.  The compressor
// itself never creates directories.
func EnsureDirs(paths []string) error {
	made := make(map[string]struct{})
	for _, p := range paths {
		dir := filepath.Dir(p)
		if _, ok := made[dir]; ok {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("batch: create %s: %w", dir, err)
		}
		made[dir] = struct{}{}
	}
	return nil
}
