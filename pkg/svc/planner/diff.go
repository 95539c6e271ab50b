package planner

// Diff is the difference between two graphs.
type Diff struct {
	Added     []ID
	Removed   []ID
	Changed   []ID
	Unchanged []ID
}

// Empty reports whether the graphs hold identical stages.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare diffs next against previous. A nil previous graph marks every stage added.
func Compare(previous, next *Graph) Diff {
	var diff Diff

	for _, id := range next.IDs() {
		old, ok := previous.Stage(id)
		if !ok {
			diff.Added = append(diff.Added, id)

			continue
		}

		current, _ := next.Stage(id)
		if old.Equal(current) {
			diff.Unchanged = append(diff.Unchanged, id)
		} else {
			diff.Changed = append(diff.Changed, id)
		}
	}

	for _, id := range previous.IDs() {
		if _, ok := next.Stage(id); !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}

	return diff
}
