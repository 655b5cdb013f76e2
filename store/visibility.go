package store

// VisibilitySet tracks which units are hidden from display. It knows nothing about buffered data.
type VisibilitySet struct {
	hidden map[string]struct{}
}

func NewVisibilitySet() *VisibilitySet {
	return &VisibilitySet{hidden: make(map[string]struct{})}
}

// Toggle flips key between hidden and visible and reports whether it is now hidden.
func (v *VisibilitySet) Toggle(key string) bool {
	if _, ok := v.hidden[key]; ok {
		delete(v.hidden, key)
		return false
	}
	v.hidden[key] = struct{}{}
	return true
}

func (v *VisibilitySet) IsHidden(key string) bool {
	_, ok := v.hidden[key]
	return ok
}

func (v *VisibilitySet) Len() int {
	return len(v.hidden)
}
