package store

import "strings"

// expandTemplate performs the single-pass {{name}} / legacy {name}
// substitution of spec §4.1, in one left-to-right scan so that text
// introduced by a substitution is never rescanned for further
// placeholders (a placeholder produced by a substitution stays literal).
func (s *Store) expandTemplate(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], "{{") {
			if end := strings.Index(text[i+2:], "}}"); end >= 0 {
				name := text[i+2 : i+2+end]
				b.WriteString(s.lookupForTemplate(name))
				i += 2 + end + 2
				continue
			}
		}
		if text[i] == '{' {
			if end := strings.IndexByte(text[i+1:], '}'); end >= 0 {
				name := text[i+1 : i+1+end]
				b.WriteString(s.lookupForTemplate(name))
				i += 1 + end + 1
				continue
			}
		}
		b.WriteByte(text[i])
		i++
	}
	return b.String()
}

func (s *Store) lookupForTemplate(name string) string {
	v, err := s.Get(name)
	if err != nil {
		return ""
	}
	return v.String()
}
