package chatmodel

import (
	"strings"
	"unicode"
)

// PlaceholderTitle is the title every chat starts with.
const PlaceholderTitle = "New Chat"

// minPromotionLength is the shortest message that can drive a title.
const minPromotionLength = 12

// genericTitles are titles that still count as unpromoted: promotion replaces
// these, and nothing else.
var genericTitles = map[string]bool{
	"new chat":     true,
	"untitled":     true,
	"general chat": true,
	"greeting":     true,
	"hello":        true,
	"hi":           true,
}

// greetingWords filter out bare greetings so "hello" never becomes a title.
// Matched case-insensitive, as a whole-word prefix or an exact match.
var greetingWords = []string{
	"hi", "hello", "hey", "yo", "sup", "hola", "howdy", "greetings",
	"good morning", "good afternoon", "good evening", "what's up", "whats up",
}

// topicKeywords map, in priority order, a keyword found anywhere in the
// message to a canned title.
var topicKeywords = []struct {
	keyword string
	title   string
}{
	{"algebra", "Algebra Help"},
	{"calculus", "Calculus Help"},
	{"geometry", "Geometry Help"},
	{"math", "Math Help"},
	{"physics", "Physics Help"},
	{"chemistry", "Chemistry Help"},
	{"biology", "Biology Help"},
	{"history", "History Help"},
	{"essay", "Essay Writing"},
	{"grammar", "Grammar Help"},
	{"exam", "Exam Prep"},
	{"homework", "Homework Help"},
	{"program", "Coding Help"},
	{"code", "Coding Help"},
	{"coding", "Coding Help"},
}

// titleWordLimit caps the fallback title length.
const titleWordLimit = 5

// IsGenericTitle reports whether the title is the placeholder or one of the
// greeting-derived generics that promotion may replace.
func IsGenericTitle(title string) bool {
	return genericTitles[strings.ToLower(strings.TrimSpace(title))]
}

// IsGreeting reports whether the message is a bare greeting.
func IsGreeting(message string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(message))
	cleaned = strings.TrimRight(cleaned, "!.?, ")
	for _, word := range greetingWords {
		if cleaned == word {
			return true
		}
		if strings.HasPrefix(cleaned, word) {
			rest := cleaned[len(word):]
			if len(rest) > 0 && !isWordChar(rune(rest[0])) {
				return true
			}
		}
	}
	return false
}

// ShouldPromote decides whether a user message replaces the current title:
// the title must still be generic, the message must not be a greeting, and it
// must be long enough to say something.
func ShouldPromote(currentTitle, message string) bool {
	if !IsGenericTitle(currentTitle) {
		return false
	}
	trimmed := strings.TrimSpace(message)
	if len(trimmed) < minPromotionLength {
		return false
	}
	return !IsGreeting(trimmed)
}

// DeriveTitle builds the local fallback title: a topic keyword match wins,
// otherwise the first few cleaned words of the message, capitalized.
func DeriveTitle(message string) string {
	lower := strings.ToLower(message)
	for _, tk := range topicKeywords {
		if strings.Contains(lower, tk.keyword) {
			return tk.title
		}
	}

	words := strings.Fields(cleanForTitle(message))
	if len(words) > titleWordLimit {
		words = words[:titleWordLimit]
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}
	title := strings.Join(words, " ")
	if title == "" {
		return PlaceholderTitle
	}
	return title
}

func cleanForTitle(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func capitalize(word string) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return word
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
