package poll

import (
	"time"

	"github.com/go-jose/go-jose/v4/json"
)

// Status is the lifecycle state of a Poll.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClosing, StatusClosed:
		return true
	}
	return false
}

// Choice is a ternary vote value. The numeric values are persisted.
type Choice int

const (
	ChoiceNo    Choice = 0
	ChoiceMaybe Choice = 1
	ChoiceYes   Choice = 2

	// ChoiceInvalid marks an entry whose choice was missing, null or not an integer.
	ChoiceInvalid Choice = -1
)

func (c Choice) Valid() bool {
	return c >= ChoiceNo && c <= ChoiceYes
}

func (c Choice) String() string {
	switch c {
	case ChoiceNo:
		return "no"
	case ChoiceMaybe:
		return "maybe"
	case ChoiceYes:
		return "yes"
	}
	return "invalid"
}

// Poll is one scheduling poll owned by a chat group.
type Poll struct {
	ID                string     `json:"id"`
	GroupID           string     `json:"groupId"`
	Title             string     `json:"title"`
	CreatedAt         time.Time  `json:"createdAt"`
	Status            Status     `json:"status"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	FinalizedDate     *string    `json:"finalizedDate,omitempty"`
	FinalizedOptionID *string    `json:"finalizedOptionId,omitempty"`
}

// AcceptsVotesAt reports whether a vote cast at now may be recorded: the poll must be open and,
// when a deadline is set, now must not be after it.
func (p Poll) AcceptsVotesAt(now time.Time) bool {
	if p.Status != StatusOpen {
		return false
	}
	return p.Deadline == nil || !now.After(*p.Deadline)
}

// Option is one candidate date. Options are immutable once created.
type Option struct {
	ID       string  `json:"id"`
	PollID   string  `json:"pollId"`
	Label    string  `json:"label"`
	Date     *string `json:"date,omitempty"`
	Position int     `json:"position"`
}

// WithOptions is a poll together with its options in position order.
type WithOptions struct {
	Poll    Poll     `json:"poll"`
	Options []Option `json:"options"`
}

// Option returns the option with the given id.
func (p WithOptions) Option(id string) (Option, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Vote is the latest choice of one user for one option.
type Vote struct {
	PollID    string    `json:"pollId"`
	OptionID  string    `json:"optionId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Choice    Choice    `json:"choice"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VoteEntry is a single (option, choice) pair of a vote batch.
type VoteEntry struct {
	OptionID string `json:"optionId"`
	Choice   Choice `json:"choice"`
}

// UnmarshalJSON never fails, so one malformed entry cannot sink the batch. A missing, null or
// non-integer choice becomes ChoiceInvalid; a non-string option ID becomes empty.
func (e *VoteEntry) UnmarshalJSON(b []byte) error {
	*e = VoteEntry{Choice: ChoiceInvalid}
	var raw struct {
		OptionID json.RawMessage `json:"optionId"`
		Choice   json.RawMessage `json:"choice"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	var id string
	if len(raw.OptionID) > 0 && json.Unmarshal(raw.OptionID, &id) == nil {
		e.OptionID = id
	}
	var choice *int
	if len(raw.Choice) > 0 && json.Unmarshal(raw.Choice, &choice) == nil && choice != nil {
		e.Choice = Choice(*choice)
	}
	return nil
}

// NewOption describes an option to create with its poll.
type NewOption struct {
	Label string  `json:"label"`
	Date  *string `json:"date,omitempty"`
}

// NewPoll is the input of PollStore.CreatePoll.
type NewPoll struct {
	GroupID  string
	Title    string
	Deadline *time.Time
	Options  []NewOption
}
