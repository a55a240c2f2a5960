package store

// AddTag adds a user content tag to key (spec §4.1). If the tag is
// already present it returns nil without writing or notifying.
func (s *Store) AddTag(key, tag string) error {
	attrs, err := s.GetAttributes(key)
	if err != nil {
		return err
	}
	if attrs.HasContentTag(tag) {
		return nil
	}
	attrs.ContentTags = append(attrs.ContentTags, tag)
	return s.SetAttributes(key, attrs)
}

// RemoveTag removes a user content tag from key.
func (s *Store) RemoveTag(key, tag string) error {
	attrs, err := s.GetAttributes(key)
	if err != nil {
		return err
	}
	out := attrs.ContentTags[:0:0]
	found := false
	for _, t := range attrs.ContentTags {
		if t == tag {
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		return nil
	}
	attrs.ContentTags = out
	return s.SetAttributes(key, attrs)
}

// GetTags returns key's content tags.
func (s *Store) GetTags(key string) ([]string, error) {
	attrs, err := s.GetAttributes(key)
	if err != nil {
		return nil, err
	}
	return attrs.ContentTags, nil
}

// GetAllTags returns the set of every content tag used by any entry.
func (s *Store) GetAllTags() []string {
	s.mu.Lock()
	seen := map[string]struct{}{}
	for _, e := range s.entries {
		for _, t := range e.Attributes.ContentTags {
			seen[t] = struct{}{}
		}
	}
	s.mu.Unlock()

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// GetTagged returns the keys of every entry carrying the given content
// tag.
func (s *Store) GetTagged(tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, e := range s.entries {
		if e.Attributes.HasContentTag(tag) {
			out = append(out, k)
		}
	}
	return out
}
