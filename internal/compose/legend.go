package compose

import (
	"strconv"
	"strings"
)

const (
	legendBox      = 8.0
	legendTextGap  = 4.0
	legendItemGap  = 8.0
	legendFontSize = 9.0
)

// legendRows splits items into rows no wider than maxWidth given the width of
// each label. An item wider than maxWidth gets a row of its own.
func legendRows(widths []float64, maxWidth float64) [][]int {
	var rows [][]int
	var row []int
	rowW := 0.0
	for i, w := range widths {
		item := legendBox + legendTextGap + w
		next := item
		if len(row) > 0 {
			next = rowW + legendItemGap + item
		}
		if len(row) > 0 && next > maxWidth {
			rows = append(rows, row)
			row, rowW = nil, 0
			next = item
		}
		row = append(row, i)
		rowW = next
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func rowWidth(row []int, widths []float64) float64 {
	total := 0.0
	for i, idx := range row {
		if i > 0 {
			total += legendItemGap
		}
		total += legendBox + legendTextGap + widths[idx]
	}
	return total
}

// legend draws the swatches centered in rows below y and returns the y after
// the last row.
func (c *Compositor) legend(y float64, items []LegendItem) float64 {
	c.pdf.SetFont("Helvetica", "", legendFontSize)
	c.pdf.SetTextColor(0, 0, 0)

	labels := make([]string, len(items))
	widths := make([]float64, len(items))
	for i, it := range items {
		labels[i] = c.tr(it.Label)
		widths[i] = c.pdf.GetStringWidth(labels[i])
	}

	rowH := max(legendBox, legendFontSize)
	for r, row := range legendRows(widths, c.pageW-2*c.opts.Margin) {
		if r > 0 {
			y += c.opts.Spacing.LegendRowGap
		}
		x := (c.pageW - rowWidth(row, widths)) / 2
		for _, idx := range row {
			red, green, blue := parseHexColor(items[idx].Color)
			c.pdf.SetFillColor(red, green, blue)
			c.pdf.Rect(x, y+(rowH-legendBox)/2, legendBox, legendBox, "F")
			x += legendBox + legendTextGap
			c.pdf.Text(x, y+rowH-1, labels[idx])
			x += widths[idx] + legendItemGap
		}
		y += rowH
	}
	return y
}

// parseHexColor accepts #rrggbb or #rgb and falls back to grey
func parseHexColor(s string) (int, int, int) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 128, 128, 128
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 128, 128, 128
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
