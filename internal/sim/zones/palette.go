package zones

import (
	"fmt"
	"strconv"
	"strings"
)

type Color struct {
	R, G, B uint8
}

func (c Color) Hex() string { return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B) }

// ColorFor picks peer's owner colour. Colours repeat once peers outnumber the palette.
func (c *Catalog) ColorFor(peer int) Color {
	if c == nil || len(c.palette) == 0 {
		return Color{R: 0, G: 255, B: 255}
	}
	return c.palette[Slot(peer, len(c.palette))]
}

func parseHex(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return Color{}, fmt.Errorf("bad palette colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("bad palette colour %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}
