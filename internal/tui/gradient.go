package tui

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ApplyGradient colours each rune of a single-line string, blending from
// startColor to endColor left to right.
func ApplyGradient(text, startColor, endColor string) string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return text
	}

	startRGB, err := hexToRGB(startColor)
	if err != nil {
		return text
	}
	endRGB, err := hexToRGB(endColor)
	if err != nil {
		return text
	}

	var b strings.Builder
	for i, r := range runes {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		c := fmt.Sprintf("#%02x%02x%02x",
			uint8(math.Round(lerp(float64(startRGB.r), float64(endRGB.r), t))),
			uint8(math.Round(lerp(float64(startRGB.g), float64(endRGB.g), t))),
			uint8(math.Round(lerp(float64(startRGB.b), float64(endRGB.b), t))),
		)
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Bold(true).Render(string(r)))
	}
	return b.String()
}

type rgb struct {
	r, g, b uint8
}

func hexToRGB(hex string) (rgb, error) {
	hex = strings.TrimPrefix(hex, "#")

	// Short form, e.g. "FFF"
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	if len(hex) != 6 {
		return rgb{}, fmt.Errorf("invalid hex color: %s", hex)
	}

	val, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return rgb{}, err
	}

	return rgb{
		r: uint8(val >> 16),
		g: uint8((val >> 8) & 0xFF),
		b: uint8(val & 0xFF),
	}, nil
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
