package criteria

// Set is an ordered collection of criteria with last-write-wins slots.
//
// Put replaces any criterion occupying the same slot unless the slot is
// repeatable, in which case the criterion is appended. Concat keeps both
// sides verbatim; Effective collapses duplicate slots so the latest entry
// wins. The zero value is an empty set with no repeatable slots.
type Set[F comparable] struct {
	items      []Criterion[F]
	repeatable func(Slot[F]) bool
}

// NewSet returns an empty set. repeatable may be nil.
func NewSet[F comparable](repeatable func(Slot[F]) bool) *Set[F] {
	return &Set[F]{repeatable: repeatable}
}

func (s *Set[F]) isRepeatable(slot Slot[F]) bool {
	return s.repeatable != nil && s.repeatable(slot)
}

// Put adds c, replacing the criterion in the same slot.
func (s *Set[F]) Put(c Criterion[F]) {
	slot := c.Slot()
	if s.isRepeatable(slot) {
		s.items = append(s.items, c)
		return
	}

	at := -1
	kept := s.items[:0:0]
	for _, existing := range s.items {
		if existing.Slot() == slot {
			if at < 0 {
				at = len(kept)
				kept = append(kept, c)
			}
			continue
		}
		kept = append(kept, existing)
	}
	if at < 0 {
		kept = append(kept, c)
	}
	s.items = kept
}

// Remove deletes every criterion in slot.
func (s *Set[F]) Remove(slot Slot[F]) {
	kept := s.items[:0:0]
	for _, c := range s.items {
		if c.Slot() != slot {
			kept = append(kept, c)
		}
	}
	s.items = kept
}

// Len returns the raw number of criteria, duplicates included.
func (s *Set[F]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns a copy of the raw criteria in insertion order.
func (s *Set[F]) All() []Criterion[F] {
	if s == nil {
		return nil
	}
	out := make([]Criterion[F], len(s.items))
	copy(out, s.items)
	return out
}

// Effective returns the criteria in force: for every non-repeatable slot
// only the last entry survives, at its own position.
func (s *Set[F]) Effective() []Criterion[F] {
	if s == nil {
		return nil
	}
	last := make(map[Slot[F]]int, len(s.items))
	for i, c := range s.items {
		last[c.Slot()] = i
	}
	out := make([]Criterion[F], 0, len(s.items))
	for i, c := range s.items {
		if s.isRepeatable(c.Slot()) || last[c.Slot()] == i {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the effective criterion in slot.
func (s *Set[F]) Lookup(slot Slot[F]) (Criterion[F], bool) {
	if s == nil {
		return Criterion[F]{}, false
	}
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Slot() == slot {
			return s.items[i], true
		}
	}
	return Criterion[F]{}, false
}

// Has reports whether any criterion targets one of fields.
func (s *Set[F]) Has(fields ...F) bool {
	if s == nil {
		return false
	}
	for _, c := range s.items {
		for _, f := range fields {
			if c.Field == f {
				return true
			}
		}
	}
	return false
}

// HasSlot reports whether slot is occupied.
func (s *Set[F]) HasSlot(slot Slot[F]) bool {
	_, ok := s.Lookup(slot)
	return ok
}

// Clone returns an independent copy sharing the repeatable rule.
func (s *Set[F]) Clone() *Set[F] {
	if s == nil {
		return nil
	}
	return &Set[F]{items: s.All(), repeatable: s.repeatable}
}

// Concat returns a new set holding s's criteria followed by o's, without
// collapsing duplicate slots.
func (s *Set[F]) Concat(o *Set[F]) *Set[F] {
	out := s.Clone()
	if out == nil {
		out = &Set[F]{}
		if o != nil {
			out.repeatable = o.repeatable
		}
	}
	if o != nil {
		out.items = append(out.items, o.items...)
	}
	return out
}
