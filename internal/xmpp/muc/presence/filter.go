package presence

import (
	"strings"

	"github.com/meszmate/mucd/internal/xmpp/element"
)

// Filter copies inbound presence before it is stored and reflected to
// other occupants.
type Filter struct {
	// Enabled keeps only show, status, priority and entity capabilities.
	Enabled bool
}

func allowedChild(c *element.Element) bool {
	if c.Namespace() == element.NSCaps {
		return true
	}
	switch c.Name() {
	case "show", "status", "priority":
		return true
	}
	return false
}

// isMUC matches the MUC namespace and its #user, #admin and #owner
// variants.
func isMUC(c *element.Element) bool {
	ns := c.Namespace()
	return ns == element.NSMUC || strings.HasPrefix(ns, element.NSMUC+"#")
}

// Clone returns a filtered copy of raw. Children in a MUC namespace are
// removed even when filtering is disabled.
func (f Filter) Clone(raw *element.Element) *element.Element {
	p := raw.Copy()
	kept := p.Children[:0]
	for _, c := range p.Children {
		if isMUC(c) || (f.Enabled && !allowedChild(c)) {
			continue
		}
		kept = append(kept, c)
	}
	p.Children = kept
	return p
}
