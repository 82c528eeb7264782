package chatmodel

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SearchMatch is one chat whose title matched the overlay query. Start/End
// delimit the matched span inside Title for highlighting.
type SearchMatch struct {
	ChatID string
	Title  string
	Start  int
	End    int
}

// SearchOverlay is a transient filtered projection of the non-archived chat
// list by case-insensitive title substring. It never mutates the underlying
// list and nothing about it is persisted.
type SearchOverlay struct {
	model   *Model
	query   string
	matches []SearchMatch
	index   int
}

// NewSearchOverlay builds an overlay over the model.
func NewSearchOverlay(m *Model) *SearchOverlay {
	return &SearchOverlay{model: m}
}

// SetQuery recomputes the match set. An empty query clears the overlay and
// restores the unfiltered view.
func (o *SearchOverlay) SetQuery(query string) {
	o.query = query
	o.matches = nil
	o.index = 0
	if strings.TrimSpace(query) == "" {
		o.query = ""
		return
	}
	for _, chat := range o.model.Chats() {
		start, end := foldIndex(chat.Title, query)
		if start < 0 {
			continue
		}
		o.matches = append(o.matches, SearchMatch{
			ChatID: chat.ID,
			Title:  chat.Title,
			Start:  start,
			End:    end,
		})
	}
}

// foldIndex locates the first case-insensitive occurrence of substr in s and
// returns byte offsets into s itself. Lowercasing can change a rune's encoded
// length, so offsets are computed against the original string rather than a
// lowered copy.
func foldIndex(s, substr string) (start, end int) {
	needle := []rune(substr)
	if len(needle) == 0 {
		return -1, -1
	}
	runes := []rune(s)
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += utf8.RuneLen(r)
	}
	offsets[len(runes)] = pos

	for i := 0; i+len(needle) <= len(runes); i++ {
		matched := true
		for j, q := range needle {
			if unicode.ToLower(runes[i+j]) != unicode.ToLower(q) {
				matched = false
				break
			}
		}
		if matched {
			return offsets[i], offsets[i+len(needle)]
		}
	}
	return -1, -1
}

// Active reports whether a query is in effect.
func (o *SearchOverlay) Active() bool {
	return o.query != ""
}

// Matches returns the current filtered projection.
func (o *SearchOverlay) Matches() []SearchMatch {
	return append([]SearchMatch(nil), o.matches...)
}

// Current returns the selected match.
func (o *SearchOverlay) Current() (SearchMatch, bool) {
	if len(o.matches) == 0 {
		return SearchMatch{}, false
	}
	return o.matches[o.index], true
}

// Next advances the selection cyclically.
func (o *SearchOverlay) Next() (SearchMatch, bool) {
	if len(o.matches) == 0 {
		return SearchMatch{}, false
	}
	o.index = (o.index + 1) % len(o.matches)
	return o.matches[o.index], true
}

// Prev moves the selection backwards cyclically.
func (o *SearchOverlay) Prev() (SearchMatch, bool) {
	if len(o.matches) == 0 {
		return SearchMatch{}, false
	}
	o.index = (o.index - 1 + len(o.matches)) % len(o.matches)
	return o.matches[o.index], true
}

// Position returns the 1-based "index of count" indicator values. Index is 0
// when there are no matches.
func (o *SearchOverlay) Position() (index, count int) {
	if len(o.matches) == 0 {
		return 0, 0
	}
	return o.index + 1, len(o.matches)
}

// Clear drops the query and the match set.
func (o *SearchOverlay) Clear() {
	o.query = ""
	o.matches = nil
	o.index = 0
}
