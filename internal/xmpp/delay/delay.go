// Package delay formats and parses the timestamps carried by delayed
// delivery extensions.
package delay

import (
	"time"

	"github.com/meszmate/mucd/internal/xmpp/element"
)

const (
	// Layout is the XEP-0082 DateTime profile used by urn:xmpp:delay.
	Layout = "2006-01-02T15:04:05Z"

	// LegacyLayout is the format used by jabber:x:delay.
	LegacyLayout = "20060102T15:04:05"
)

// FormatDatetime renders t in UTC using Layout.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(Layout)
}

// FormatLegacy renders t in UTC using LegacyLayout.
func FormatLegacy(t time.Time) string {
	return t.UTC().Format(LegacyLayout)
}

// Parse parses s using Layout. It reports false for anything else,
// including the empty string.
func Parse(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Elements returns the modern and legacy delay elements for a stanza
// originally sent by from at stamp.
func Elements(from string, stamp time.Time) (modern, legacy *element.Element) {
	modern = element.NewElement(element.NSDelay, "delay", "stamp", FormatDatetime(stamp))
	if from != "" {
		modern.SetAttr("from", from)
	}
	legacy = element.NewElement(element.NSDelayOld, "x", "stamp", FormatLegacy(stamp))
	return modern, legacy
}
