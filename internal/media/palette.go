package media

import (
	"fmt"
	"math"
	"strings"

	"github.com/EdlinOrg/prominentcolor"

	"tweench/internal/models"
)

const paletteSize = prominentcolor.DefaultK

// Colors returns the prominent colours of the decoded image. Extraction
// failures are logged and reported as nil.
func (m *Media) Colors() []models.Color {
	if m.img == nil {
		m.log.Info("can't analyze colors, no image data")
		return nil
	}
	colors, err := m.extractColors()
	if err != nil {
		m.log.Warn("color extraction failed", "err", err)
		return nil
	}
	return colors
}

func (m *Media) extractColors() (colors []models.Color, err error) {
	defer func() {
		if r := recover(); r != nil {
			colors, err = nil, fmt.Errorf("palette panic: %v", r)
		}
	}()

	items, err := prominentcolor.KmeansWithAll(
		paletteSize, m.img,
		prominentcolor.ArgumentNoCropping,
		prominentcolor.DefaultSize,
		prominentcolor.GetDefaultMasks(),
	)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, it := range items {
		total += it.Cnt
	}
	if total == 0 {
		return nil, fmt.Errorf("empty palette")
	}

	colors = make([]models.Color, 0, len(items))
	for _, it := range items {
		colors = append(colors, models.Color{
			Value:      "#" + strings.ToLower(it.AsString()),
			Prominence: int(math.Round(float64(it.Cnt) * 100 / float64(total))),
		})
	}
	return colors, nil
}
