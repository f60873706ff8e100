package can

// Filter selects received frames by identifier pattern. A frame matches
// when its width equals Kind and (frame.ID & Mask) == (ID & Mask). RTR
// frames are matched by the same test; there is no separate RTR
// filtering.
type Filter struct {
	ID   uint32
	Mask uint32
	Kind IDKind
}

// Match reports whether fr passes the filter.
func (f Filter) Match(fr *Frame) bool {
	if fr.Kind != f.Kind {
		return false
	}
	return (fr.ID & f.Mask) == (f.ID & f.Mask)
}

// AcceptAll returns a filter matching every frame of the given width.
func AcceptAll(kind IDKind) Filter {
	return Filter{Kind: kind}
}
