// Package tts synthesizes speech for assistant replies and role greetings.
// Synthesis is best effort: callers treat a failure as "no audio", never as a
// failed chat turn.
package tts

import (
	"context"
	"strings"

	"github.com/nexusvoice/backend/internal/config"
)

// Service 文字转语音服务。
type Service interface {
	// Synthesize 合成音频并返回可访问的音频地址。voice 为空时使用默认音色。
	Synthesize(ctx context.Context, text, voice string) (string, error)
	// Enabled 表示服务是否配置就绪。
	Enabled() bool
}

// AssetStore persists synthesized audio and returns a URL clients can fetch.
type AssetStore interface {
	SaveAudio(data []byte, format string) (string, error)
}

// New 根据配置创建 TTS 服务；未配置时返回禁用实现。
func New(cfg config.SpeechConfig, assets AssetStore) Service {
	if !cfg.Enabled || assets == nil {
		return disabledService{}
	}
	return newQiniuClient(cfg, assets)
}

type disabledService struct{}

func (disabledService) Synthesize(ctx context.Context, text, voice string) (string, error) {
	return "", nil
}

func (disabledService) Enabled() bool { return false }

// validText 过滤空文本与超长文本。
func validText(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed != "" && len([]rune(text)) <= 10000
}
