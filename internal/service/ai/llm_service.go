// Package ai wraps the eino chat model behind the ChatService boundary used
// by the conversation orchestrator and the role assistant.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/config"
)

// Service is the eino/Ark-backed model provider.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
}

var _ ChatService = (*Service)(nil)

// NewService creates the provider from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &Service{chatModel: chatModel, cfg: cfg}, nil
}

// ModelName reports the configured default model.
func (s *Service) ModelName() string {
	return s.cfg.Model
}

// EstimateTokens gives the rough count used for window budgeting. CJK runs
// roughly one token per rune, Latin roughly one per four bytes; take the max.
func (s *Service) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	byBytes := len(text) / 4
	if runes > byBytes {
		return runes
	}
	return byBytes
}

// Chat blocks until the provider responds, errors, or the context ends.
func (s *Service) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	out, err := s.chatModel.Generate(ctx, toSchemaMessages(req.Turns), s.callOptions(req)...)
	if err != nil {
		return nil, apperr.Upstream("模型调用失败", err)
	}

	resp := buildResponse(out, s.resolveModel(req))
	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	log.Printf("[ai] chat completed conversation=%s model=%s length=%d time=%dms",
		req.ConversationID, resp.Model, len(resp.Content), resp.ResponseTimeMs)
	return resp, nil
}

// StreamChat opens the provider stream and pumps it on a goroutine. Callbacks
// for a single call are invoked sequentially; exactly one of OnError or
// OnComplete terminates the sequence.
func (s *Service) StreamChat(ctx context.Context, req *ChatRequest, handler StreamHandler) error {
	start := time.Now()

	reader, err := s.chatModel.Stream(ctx, toSchemaMessages(req.Turns), s.callOptions(req)...)
	if err != nil {
		return apperr.Upstream("模型流式调用失败", err)
	}

	go func() {
		defer reader.Close()

		chunks := make([]*schema.Message, 0, 8)
		for {
			chunk, recvErr := reader.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				handler.OnError(apperr.Upstream("模型流中断", recvErr))
				return
			}
			if chunk == nil {
				continue
			}
			chunks = append(chunks, chunk)
			if chunk.Content != "" {
				handler.OnNext(chunk.Content)
			}
		}

		if len(chunks) == 0 {
			handler.OnError(apperr.Upstream("模型未返回内容", nil))
			return
		}

		merged, concatErr := schema.ConcatMessages(chunks)
		if concatErr != nil {
			handler.OnError(apperr.Upstream("合并流式响应失败", concatErr))
			return
		}
		resp := buildResponse(merged, s.resolveModel(req))
		resp.ResponseTimeMs = time.Since(start).Milliseconds()
		handler.OnComplete(resp)
	}()

	return nil
}

func (s *Service) resolveModel(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return s.cfg.Model
}

func (s *Service) callOptions(req *ChatRequest) []model.Option {
	opts := make([]model.Option, 0, 3)
	if req.Model != "" && req.Model != s.cfg.Model {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

func toSchemaMessages(turns []Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case "system":
			msgs = append(msgs, schema.SystemMessage(t.Content))
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	return msgs
}

func buildResponse(msg *schema.Message, model string) *ChatResponse {
	resp := &ChatResponse{Content: msg.Content, Model: model, FinishReason: "stop"}
	if meta := msg.ResponseMeta; meta != nil {
		if meta.FinishReason != "" {
			resp.FinishReason = meta.FinishReason
		}
		if meta.Usage != nil {
			resp.Usage = TokenUsage{
				PromptTokens:     meta.Usage.PromptTokens,
				CompletionTokens: meta.Usage.CompletionTokens,
				TotalTokens:      meta.Usage.TotalTokens,
			}
		}
	}
	return resp
}
