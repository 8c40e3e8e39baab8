package clipboard

import (
	"strings"

	"github.com/atotto/clipboard"

	"github.com/surge-downloader/kadtable/internal/target"
)

var (
	clipboardReadAll  = clipboard.ReadAll
	clipboardWriteAll = clipboard.WriteAll
)

type Validator struct {
	allowedKinds map[target.Kind]bool
}

// NewValidator accepts ids and magnets, never torrent file paths.
func NewValidator() *Validator {
	return &Validator{
		allowedKinds: map[target.Kind]bool{
			target.KindHex:    true,
			target.KindBase58: true,
			target.KindMagnet: true,
		},
	}
}

// ExtractTarget returns the trimmed text if it parses as an allowed target,
// or "" otherwise.
func (v *Validator) ExtractTarget(text string) string {
	text = strings.TrimSpace(text)

	// Quick reject: too long, multi-line, or a path
	if len(text) > 2048 || strings.ContainsAny(text, "\n\r") {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(text), ".torrent") {
		return ""
	}

	t, err := target.Parse(text)
	if err != nil || !v.allowedKinds[t.Kind] {
		return ""
	}
	return text
}

// ReadTarget returns a lookup target found on the clipboard, or "".
func ReadTarget() string {
	text, err := clipboardReadAll()
	if err != nil {
		return ""
	}
	return NewValidator().ExtractTarget(text)
}

// Write copies text to the system clipboard.
func Write(text string) error {
	return clipboardWriteAll(text)
}
