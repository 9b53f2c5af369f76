package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"character-chat/backend/pkg/logger"
	"character-chat/backend/pkg/resilience"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Recorder receives per-call accounting. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordUsage(ctx context.Context, modelID string, usage Usage)
	RecordCall(ctx context.Context, modelID, kind string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordUsage(context.Context, string, Usage) {}
func (nopRecorder) RecordCall(context.Context, string, string, time.Duration, error) {}

// IsProviderFailure keeps caller cancellations from tripping the breaker
func IsProviderFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Streamer issues completion calls against resolved credentials
type Streamer struct {
	factory  ClientFactory
	breakers *resilience.Group
	recorder Recorder
	log      *logger.Logger
}

func NewStreamer(factory ClientFactory, breakers *resilience.Group, recorder Recorder, log *logger.Logger) *Streamer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Streamer{factory: factory, breakers: breakers, recorder: recorder, log: log}
}

func (s *Streamer) guard(creds Credentials, fn func() error) error {
	if s.breakers == nil {
		return fn()
	}
	return s.breakers.Get(creds.Source + ":" + creds.ModelID).Execute(fn)
}

func callOptions(params Params) []model.Option {
	return []model.Option{
		model.WithTemperature(float32(params.Temperature)),
		model.WithMaxTokens(params.MaxTokens),
	}
}

// Generate performs one non-streaming completion
func (s *Streamer) Generate(ctx context.Context, creds Credentials, messages []*schema.Message, params Params) (*schema.Message, error) {
	started := time.Now()
	cm, err := s.factory(ctx, creds, params)
	if err != nil {
		return nil, &ProviderError{ModelID: creds.ModelID, Err: err}
	}

	var out *schema.Message
	err = s.guard(creds, func() error {
		var genErr error
		out, genErr = cm.Generate(ctx, messages, callOptions(params)...)
		return genErr
	})
	s.recorder.RecordCall(ctx, creds.ModelID, "generate", time.Since(started), err)
	if err != nil {
		return nil, &ProviderError{ModelID: creds.ModelID, Err: err}
	}
	if out == nil {
		return nil, &ProviderError{ModelID: creds.ModelID, Err: errors.New("empty response")}
	}
	return out, nil
}

// Stream opens a streaming completion. The caller must Close the returned Stream.
func (s *Streamer) Stream(ctx context.Context, creds Credentials, messages []*schema.Message, params Params) (*Stream, error) {
	cm, err := s.factory(ctx, creds, params)
	if err != nil {
		return nil, &ProviderError{ModelID: creds.ModelID, Err: err}
	}

	var reader *schema.StreamReader[*schema.Message]
	err = s.guard(creds, func() error {
		var streamErr error
		reader, streamErr = cm.Stream(ctx, messages, callOptions(params)...)
		return streamErr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProviderError{ModelID: creds.ModelID, Err: err}
	}

	return &Stream{
		ctx:      ctx,
		reader:   reader,
		modelID:  creds.ModelID,
		messages: messages,
		started:  time.Now(),
		recorder: s.recorder,
		log:      s.log.With("model", creds.ModelID),
	}, nil
}

// Stream is a lazy, forward-only sequence of content deltas
type Stream struct {
	ctx      context.Context
	reader   *schema.StreamReader[*schema.Message]
	modelID  string
	messages []*schema.Message
	started  time.Time
	recorder Recorder
	log      *logger.Logger

	content  strings.Builder
	reported *schema.TokenUsage
	usage    Usage
	chunks   int

	closeOnce sync.Once
	closed    bool
}

// Next returns the next non-empty delta. io.EOF marks normal completion; a context error
// marks caller cancellation. Either way the stream is already closed.
func (st *Stream) Next() (string, error) {
	for {
		if st.closed {
			return "", io.EOF
		}
		if err := st.ctx.Err(); err != nil {
			st.finish(err)
			return "", err
		}

		msg, err := st.reader.Recv()
		if errors.Is(err, io.EOF) {
			st.finish(nil)
			return "", io.EOF
		}
		if err != nil {
			if ctxErr := st.ctx.Err(); ctxErr != nil {
				st.finish(ctxErr)
				return "", ctxErr
			}
			perr := &ProviderError{ModelID: st.modelID, Err: err}
			st.finish(perr)
			return "", perr
		}
		if msg == nil {
			continue
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil && msg.ResponseMeta.Usage.TotalTokens > 0 {
			st.reported = msg.ResponseMeta.Usage
		}
		if msg.Content == "" {
			continue
		}

		st.chunks++
		st.content.WriteString(msg.Content)
		return msg.Content, nil
	}
}

// Close releases the provider connection. Safe to call repeatedly.
func (st *Stream) Close() {
	st.finish(context.Canceled)
}

// Usage is valid once the stream has been closed
func (st *Stream) Usage() Usage {
	return st.usage
}

// Content returns everything received so far
func (st *Stream) Content() string {
	return st.content.String()
}

func (st *Stream) finish(cause error) {
	st.closeOnce.Do(func() {
		st.closed = true
		st.reader.Close()

		if st.reported != nil {
			st.usage = Usage{
				PromptTokens:     st.reported.PromptTokens,
				CompletionTokens: st.reported.CompletionTokens,
				TotalTokens:      st.reported.TotalTokens,
			}
			st.log.Info("Token usage",
				"promptTokens", st.usage.PromptTokens,
				"completionTokens", st.usage.CompletionTokens,
				"totalTokens", st.usage.TotalTokens,
			)
		} else {
			st.usage = EstimateUsage(st.messages, st.content.String())
			st.log.Info("Token usage",
				"promptTokens", st.usage.PromptTokens,
				"completionTokens", st.usage.CompletionTokens,
				"totalTokens", st.usage.TotalTokens,
				"approximate", true,
			)
		}

		if cause != nil {
			st.log.Info("Stream ended early", "chunks", st.chunks, "reason", cause.Error())
		}

		// a consumer that stopped reading is not a provider failure
		var callErr error
		if cause != nil && IsProviderFailure(cause) {
			callErr = cause
		}
		st.recorder.RecordUsage(st.ctx, st.modelID, st.usage)
		st.recorder.RecordCall(st.ctx, st.modelID, "stream", time.Since(st.started), callErr)
	})
}

// EstimateUsage approximates token counts at four characters per token
func EstimateUsage(messages []*schema.Message, completion string) Usage {
	serialized, err := json.Marshal(messages)
	if err != nil {
		serialized = nil
	}
	u := Usage{
		PromptTokens:     ceilDiv(utf8.RuneCount(serialized), 4),
		CompletionTokens: ceilDiv(utf8.RuneCountInString(completion), 4),
		Estimated:        true,
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
