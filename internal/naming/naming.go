// Package naming derives the on-disk names of uploaded objects and the
// filenames they are served under. Both the upload and the download path go
// through this package so the extension fallback is applied in one place.
package naming

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultExt is used when an uploaded name carries no extension.
const DefaultExt = "bin"

const (
	// MaxNameLen bounds storage names in bytes and display names in
	// characters.
	MaxNameLen = 255
	// suffixReserve keeps room for a "-<n>" collision suffix.
	suffixReserve = 8
)

// ErrInvalidName is returned for names that are empty, contain control
// characters, or would escape the owner namespace.
var ErrInvalidName = errors.New("invalid file name")

// Split splits name on its last '.'. A name without a dot has an empty
// extension; ".hidden" splits into an empty base and the extension "hidden".
func Split(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// Clean normalizes an uploaded file name. Client-side directory components
// ("C:\fakepath\x.txt", "a/b.txt") are dropped; anything still able to
// traverse directories is rejected.
func Clean(original string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(original))
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return "", ErrInvalidName
		}
	}
	return name, nil
}

// DeriveStorageName composes "<ts>_<base>.<ext>" from the uploaded name,
// substituting DefaultExt for a missing extension.
//
//	DeriveStorageName("report.pdf", 1000) == "1000_report.pdf"
//	DeriveStorageName("noext", 1000)      == "1000_noext.bin"
//	DeriveStorageName(".hidden", 1000)    == "1000_.hidden"
func DeriveStorageName(original string, ts int64) (string, error) {
	name, err := Clean(original)
	if err != nil {
		return "", err
	}
	base, ext := Split(name)
	if ext == "" {
		ext = DefaultExt
	}
	prefix := strconv.FormatInt(ts, 10) + "_"
	budget := MaxNameLen - suffixReserve - len(prefix) - len(ext) - 1
	if budget < 0 {
		return "", ErrInvalidName
	}
	return prefix + truncate(base, budget) + "." + ext, nil
}

// WithSuffix disambiguates a storage name: n == 0 returns name unchanged,
// otherwise "-<n>" is inserted before the extension.
func WithSuffix(name string, n int) string {
	if n == 0 {
		return name
	}
	base, ext := Split(name)
	if ext == "" {
		return name + "-" + strconv.Itoa(n)
	}
	return base + "-" + strconv.Itoa(n) + "." + ext
}

// DownloadName is the filename an object is served under: its display name,
// with DefaultExt appended when the display name has no extension.
func DownloadName(display string) string {
	if _, ext := Split(display); ext != "" {
		return display
	}
	return strings.TrimSuffix(display, ".") + "." + DefaultExt
}

// ValidDisplayName reports whether name may be used as a display name.
func ValidDisplayName(name string) bool {
	if strings.TrimSpace(name) == "" || !utf8.ValidString(name) || utf8.RuneCountInString(name) > MaxNameLen {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
