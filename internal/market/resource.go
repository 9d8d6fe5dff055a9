package market

import "fmt"

// Resource is one of the four tradable commodities on the in-game market.
type Resource string

const (
	Wood       Resource = "wood"
	Stone      Resource = "stone"
	Provisions Resource = "provisions"
	Horses     Resource = "horses"
)

// Resources lists every known resource in display order.
func Resources() []Resource {
	return []Resource{Wood, Stone, Provisions, Horses}
}

// resource metadata as it appears in forwarded market reports
var resourceEmoji = map[Resource]string{
	Wood:       "🪵",
	Stone:      "🪨",
	Provisions: "🍞",
	Horses:     "🐴",
}

var resourceTitle = map[Resource]string{
	Wood:       "Дерево",
	Stone:      "Камень",
	Provisions: "Провизия",
	Horses:     "Лошади",
}

var emojiResource = map[string]Resource{
	"🪵": Wood,
	"🪨": Stone,
	"🍞": Provisions,
	"🐴": Horses,
}

var titleResource = map[string]Resource{
	"Дерево":   Wood,
	"Камень":   Stone,
	"Провизия": Provisions,
	"Лошади":   Horses,
}

// Emoji returns the market-report emoji for the resource.
func (r Resource) Emoji() string {
	return resourceEmoji[r]
}

// Title returns the resource name as printed in market reports.
func (r Resource) Title() string {
	return resourceTitle[r]
}

// Valid reports whether r is a known resource.
func (r Resource) Valid() bool {
	_, ok := resourceEmoji[r]
	return ok
}

// ResourceByEmoji resolves a report emoji to a resource.
func ResourceByEmoji(emoji string) (Resource, bool) {
	r, ok := emojiResource[emoji]
	return r, ok
}

// ResourceByTitle resolves a report resource name to a resource.
func ResourceByTitle(title string) (Resource, bool) {
	r, ok := titleResource[title]
	return r, ok
}

// ParseResource accepts either the internal name or the report title.
func ParseResource(s string) (Resource, error) {
	if r := Resource(s); r.Valid() {
		return r, nil
	}
	if r, ok := titleResource[s]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown resource %q", s)
}

// Direction is the price movement a user waits for.
type Direction string

const (
	Falling Direction = "down"
	Rising  Direction = "up"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Falling || d == Rising
}

// Trend is the coarse movement label over an observation window.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Contradicts reports whether the trend moves against the waited direction.
// A stable trend contradicts nothing.
func (t Trend) Contradicts(d Direction) bool {
	return (d == Falling && t == TrendUp) || (d == Rising && t == TrendDown)
}
