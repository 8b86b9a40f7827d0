package ragtest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel is a scripted model.BaseChatModel. Reply computes the completion
// from the input messages; the last input is kept for assertions.
type ChatModel struct {
	Reply func(ctx context.Context, input []*schema.Message) (string, error)

	mu    sync.Mutex
	calls int
	last  []*schema.Message
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls++
	m.last = input
	m.mu.Unlock()

	if m.Reply == nil {
		return schema.AssistantMessage("", nil), nil
	}
	text, err := m.Reply(ctx, input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream implements model.BaseChatModel by emitting the Generate result as
// a single chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns the number of Generate calls.
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastInput returns the messages of the most recent call.
func (m *ChatModel) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
