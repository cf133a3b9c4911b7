package poll

import "sort"

// OptionTally holds the aggregate counts of one option.
type OptionTally struct {
	OptionID string  `json:"optionId"`
	Label    string  `json:"label"`
	Date     *string `json:"date,omitempty"`
	Position int     `json:"-"`
	Yes      int     `json:"yes"`
	Maybe    int     `json:"maybe"`
	No       int     `json:"no"`
}

// Voters is the number of distinct users with a vote on this option.
func (t OptionTally) Voters() int {
	return t.Yes + t.Maybe + t.No
}

// Add counts one vote.
func (t *OptionTally) Add(c Choice) {
	switch c {
	case ChoiceYes:
		t.Yes++
	case ChoiceMaybe:
		t.Maybe++
	case ChoiceNo:
		t.No++
	}
}

// Tally lists per-option counts in option position order.
type Tally []OptionTally

// EmptyTally returns a zeroed tally for options.
func EmptyTally(options []Option) Tally {
	out := make(Tally, 0, len(options))
	for _, o := range options {
		out = append(out, OptionTally{OptionID: o.ID, Label: o.Label, Date: o.Date, Position: o.Position})
	}
	return out
}

// Ranked returns a copy ordered by yes desc, maybe desc, no asc. Remaining ties keep option order.
func (t Tally) Ranked() Tally {
	out := make(Tally, len(t))
	copy(out, t)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Yes != b.Yes {
			return a.Yes > b.Yes
		}
		if a.Maybe != b.Maybe {
			return a.Maybe > b.Maybe
		}
		if a.No != b.No {
			return a.No < b.No
		}
		return a.Position < b.Position
	})
	return out
}
