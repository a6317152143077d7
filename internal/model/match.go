package model

import (
	"sort"
	"strconv"
	"strings"
)

// ---- Parsed input ----

// Card is one entry of a serialized deck collection. ID is the first tuple
// element; Fields holds the remaining elements rendered as text.
type Card struct {
	ID     string
	Fields []string
}

// Field returns the i-th trailing field, or "" when the tuple is shorter.
func (c Card) Field(i int) string {
	if i < 0 || i >= len(c.Fields) {
		return ""
	}
	return c.Fields[i]
}

// DeckEntry is one side of a match: who played it and what they brought.
type DeckEntry struct {
	Participant string
	Cards       []Card
}

// MatchRecord is a normalized match row. Exactly one of Won is true.
type MatchRecord struct {
	Row   int    // 1-based data row index in the source
	Tag   string // replay tag, if the source carries one
	Sides [2]DeckEntry
	Won   [2]bool
}

// ---- Identity ----

// Item is a card after segment routing.
type Item struct {
	ID      string
	Segment string
}

// Identity is the canonical (participant, deck) key. Deck is a length-prefixed
// encoding of the sorted unique items, so two decks holding the same items in
// a different order produce equal identities.
type Identity struct {
	Participant string
	Deck        string
}

// NewIdentity canonicalizes items (sort + dedup) and builds the key.
func NewIdentity(participant string, items []Item) Identity {
	sorted := UniqueItems(items)
	var b strings.Builder
	for _, it := range sorted {
		writeField(&b, it.Segment)
		writeField(&b, it.ID)
	}
	return Identity{Participant: participant, Deck: b.String()}
}

// Items decodes the canonical deck back into its sorted items.
func (id Identity) Items() []Item {
	var out []Item
	rest := id.Deck
	for rest != "" {
		seg, r, ok := readField(rest)
		if !ok {
			return out
		}
		itemID, r, ok := readField(r)
		if !ok {
			return out
		}
		out = append(out, Item{ID: itemID, Segment: seg})
		rest = r
	}
	return out
}

// UniqueItems returns items sorted by (ID, Segment) with duplicates removed.
func UniqueItems(items []Item) []Item {
	out := make([]Item, 0, len(items))
	seen := make(map[Item]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func readField(s string) (field, rest string, ok bool) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", "", false
	}
	n, err := strconv.Atoi(s[:colon])
	if err != nil || n < 0 || colon+1+n > len(s) {
		return "", "", false
	}
	return s[colon+1 : colon+1+n], s[colon+1+n:], true
}
