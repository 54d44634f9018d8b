package skill

import (
	"os"
	"path/filepath"
	"sort"
)

// Discover loads every *.md skill file under dir, skipping ones that fail
// to parse rather than aborting the whole scan — a malformed skill file
// must not take down context assembly for a turn.
func Discover(dir string) ([]*Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var skills []*Skill
	for _, name := range names {
		s, err := Load(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		skills = append(skills, s)
	}
	return skills, nil
}

// Eligible filters skills down to those whose Eligible probe passes and
// that are not disabled in state.
func Eligible(skills []*Skill, state *State, getenv func(string) string) []*Skill {
	var out []*Skill
	for _, s := range skills {
		if state != nil && !state.IsEnabled(s.Name) {
			continue
		}
		if !s.Eligible(getenv) {
			continue
		}
		out = append(out, s)
	}
	return out
}
