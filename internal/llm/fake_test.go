package llm

import (
	"context"
	"sync/atomic"
	"time"

	"character-chat/backend/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	generate func(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
	stream   func(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
	calls    atomic.Int32
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls.Add(1)
	return f.generate(ctx, input, opts...)
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.calls.Add(1)
	return f.stream(ctx, input, opts...)
}

func factoryFor(m model.BaseChatModel) ClientFactory {
	return func(context.Context, Credentials, Params) (model.BaseChatModel, error) {
		return m, nil
	}
}

type fakeLookup map[string]models.ModelConfig

func (f fakeLookup) Resolve(_ context.Context, modelID string) (models.ModelConfig, bool, error) {
	cfg, ok := f[modelID]
	return cfg, ok, nil
}

type plainVault struct{}

func (plainVault) Decrypt(ciphertext string) (string, error) {
	return "plain-" + ciphertext, nil
}

type recordingRecorder struct {
	usage []Usage
	calls []error
}

func (r *recordingRecorder) RecordUsage(_ context.Context, _ string, u Usage) {
	r.usage = append(r.usage, u)
}

func (r *recordingRecorder) RecordCall(_ context.Context, _, _ string, _ time.Duration, err error) {
	r.calls = append(r.calls, err)
}
