package model

import "strings"

// VariantRef names the prices a cart line may be billed against.  FullPriceID
// is mandatory and identifies the canonical variant of the slot;
// DiscPriceID optionally names the paired sibling-discount price.
type VariantRef struct {
	FullPriceID string
	DiscPriceID string
}

// CartLine is one seat request for one child.  Title and the label fields
// are carried through for display and for the reconciliation metadata.
type CartLine struct {
	Variants      VariantRef
	OfferingID    string
	Slot          string
	ChildFirst    string
	ChildLast     string
	ChildDOB      string // YYYY-MM-DD
	Title         string
	PeriodLabel   string
	TimeLabel     string
	DisciplineKey string
}

// ChildKey returns the normalized identity of the line's child.
func (l CartLine) ChildKey() string {
	return normName(l.ChildFirst) + "|" + normName(l.ChildLast)
}

// ChildName returns the display name of the line's child.
func (l CartLine) ChildName() string {
	return strings.Join(strings.Fields(l.ChildFirst+" "+l.ChildLast), " ")
}

// Cart is the client-held basket submitted at checkout.
type Cart struct {
	Email string
	Lines []CartLine
}

// ChildGroup is one distinct child of a cart together with the indexes of
// the lines booked for that child.
type ChildGroup struct {
	Key   string
	First string
	Last  string
	Lines []int
}

// Children groups the cart lines by child in order of first appearance.
// The first group is the primary child; all later groups are siblings.
func (c Cart) Children() []ChildGroup {
	groups := make([]ChildGroup, 0)
	index := make(map[string]int)
	for i, l := range c.Lines {
		key := l.ChildKey()
		idx, ok := index[key]
		if !ok {
			idx = len(groups)
			index[key] = idx
			groups = append(groups, ChildGroup{Key: key, First: l.ChildFirst, Last: l.ChildLast})
		}
		groups[idx].Lines = append(groups[idx].Lines, i)
	}
	return groups
}

func normName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
