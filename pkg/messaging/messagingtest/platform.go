// Package messagingtest provides platform doubles for tests.
package messagingtest

import (
	"context"
	"sync"

	"github.com/canopy-network/datepoll/pkg/messaging"
	"github.com/stretchr/testify/mock"
)

// Platform is a testify mock of messaging.Platform.
type Platform struct {
	mock.Mock
}

var _ messaging.Platform = (*Platform)(nil)

func (m *Platform) GetMemberCount(ctx context.Context, groupID string) (int, error) {
	args := m.Called(ctx, groupID)
	return args.Int(0), args.Error(1)
}

func (m *Platform) GetMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	args := m.Called(ctx, groupID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *Platform) SendConfirmationPrompt(ctx context.Context, groupID, text string, yes, no messaging.Action) error {
	return m.Called(ctx, groupID, text, yes, no).Error(0)
}

func (m *Platform) SendMessage(ctx context.Context, target string, msg messaging.Message) error {
	return m.Called(ctx, target, msg).Error(0)
}

// Sent is one recorded outbound message.
type Sent struct {
	Target  string
	Message messaging.Message
	Prompt  bool
}

// Recorder is a concurrency-safe fake with a fixed membership view. SendErr, when set, fails
// every send without recording it.
type Recorder struct {
	mu          sync.Mutex
	MemberCount int
	CountErr    error
	MemberIDs   []string
	IDsErr      error
	SendErr     error
	sent        []Sent
}

var _ messaging.Platform = (*Recorder)(nil)

func (r *Recorder) GetMemberCount(context.Context, string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.MemberCount, r.CountErr
}

func (r *Recorder) GetMemberIDs(context.Context, string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.MemberIDs...), r.IDsErr
}

func (r *Recorder) SendConfirmationPrompt(_ context.Context, groupID, text string, yes, no messaging.Action) error {
	return r.record(Sent{Target: groupID, Message: messaging.Message{Text: text, Actions: []messaging.Action{yes, no}}, Prompt: true})
}

func (r *Recorder) SendMessage(_ context.Context, target string, msg messaging.Message) error {
	return r.record(Sent{Target: target, Message: msg})
}

// SetSendErr changes the send failure while the fake is in use.
func (r *Recorder) SetSendErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SendErr = err
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	r.sent = append(r.sent, s)
	return nil
}

// Sent returns a copy of every successfully sent message.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Prompts counts successfully sent confirmation prompts.
func (r *Recorder) Prompts() int {
	n := 0
	for _, s := range r.Sent() {
		if s.Prompt {
			n++
		}
	}
	return n
}
