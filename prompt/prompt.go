// Package prompt 把房间类型、风格与材质字段组合成与提供方无关的文本提示词。
package prompt

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fields are the style inputs of a generation request.
type Fields struct {
	RoomType         string `json:"room_type"`
	FurnitureStyle   string `json:"furniture_style"`
	WallColor        string `json:"wall_color"`
	FlooringMaterial string `json:"flooring_material"`
}

// Prompt is a positive/negative prompt pair.
type Prompt struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
}

// Negative discourages layout changes and common rendering artefacts.
const Negative = "different room layout, moved walls, moved windows, moved doors, " +
	"changed room geometry, distorted perspective, people, text, watermark, " +
	"blurry, low quality, cartoon, oversaturated"

const (
	defaultRoom  = "room"
	defaultStyle = "contemporary"
)

var lower = cases.Lower(language.Und)

// Normalize trims, lower-cases and replaces underscores and repeated spaces.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(lower.String(s)), " ")
}

// Compose fills the photographic template. Empty fields fall back to neutral
// wording, and the wall and flooring clauses are omitted when unset.
func Compose(f Fields) Prompt {
	room := Normalize(f.RoomType)
	if room == "" {
		room = defaultRoom
	}
	style := Normalize(f.FurnitureStyle)
	if style == "" {
		style = defaultStyle
	}

	var b strings.Builder
	b.WriteString("professional interior design photograph of a ")
	b.WriteString(style)
	b.WriteString(" ")
	b.WriteString(room)
	if wall := Normalize(f.WallColor); wall != "" {
		b.WriteString(", ")
		b.WriteString(wall)
		b.WriteString(" walls")
	}
	if floor := Normalize(f.FlooringMaterial); floor != "" {
		b.WriteString(", ")
		b.WriteString(floor)
		b.WriteString(" flooring")
	}
	b.WriteString(", ")
	b.WriteString(style)
	b.WriteString(" furniture and decor, same room layout with walls, windows and doors in their original positions, ")
	b.WriteString("natural lighting, photorealistic, high detail")

	return Prompt{Positive: b.String(), Negative: Negative}
}
