package enums

import "fmt"

// ItemKind distinguishes the two sellable catalog aggregates.
type ItemKind string

const (
	ItemKindCar  ItemKind = "car"
	ItemKindPart ItemKind = "part"
)

var validItemKinds = []ItemKind{
	ItemKindCar,
	ItemKindPart,
}

// String implements fmt.Stringer.
func (i ItemKind) String() string {
	return string(i)
}

// IsValid reports whether the value is a known ItemKind.
func (i ItemKind) IsValid() bool {
	for _, candidate := range validItemKinds {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseItemKind converts raw input into an ItemKind.
func ParseItemKind(value string) (ItemKind, error) {
	for _, candidate := range validItemKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item kind %q", value)
}
