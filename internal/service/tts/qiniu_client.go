package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/pkg/utils"
)

const (
	defaultTTSHost = "openai.qiniu.com"
	defaultTTSPath = "/v1/voice/tts"
	readTimeout    = 60 * time.Second
)

// qiniuClient 七牛 TTS WebSocket 客户端。
type qiniuClient struct {
	cfg    config.SpeechConfig
	assets AssetStore
	dialer *websocket.Dialer
}

func newQiniuClient(cfg config.SpeechConfig, assets AssetStore) *qiniuClient {
	return &qiniuClient{
		cfg:    cfg,
		assets: assets,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (c *qiniuClient) Enabled() bool { return true }

type ttsRequest struct {
	Audio struct {
		VoiceType  string  `json:"voice_type"`
		Encoding   string  `json:"encoding"`
		SpeedRatio float64 `json:"speed_ratio"`
	} `json:"audio"`
	Request struct {
		Text string `json:"text"`
	} `json:"request"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize 合成整段音频，落盘后返回访问地址。
func (c *qiniuClient) Synthesize(ctx context.Context, text, voice string) (string, error) {
	cleaned := utils.CleanForTTS(text)
	if !validText(cleaned) {
		return "", apperr.Validation("TTS 文本为空或超长")
	}

	if voice == "" {
		voice = c.cfg.TTSVoice
	}
	encoding := "mp3"
	speed := float64(c.cfg.TTSSpeed)
	if speed < 0.5 || speed > 2.0 {
		speed = 1.0
	}

	audio, err := c.synthesizeBytes(ctx, cleaned, voice, encoding, speed)
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", apperr.Upstream("TTS 返回空音频", nil)
	}

	assetURL, err := c.assets.SaveAudio(audio, encoding)
	if err != nil {
		return "", fmt.Errorf("save tts audio: %w", err)
	}

	log.Printf("[tts] synthesized voice=%s bytes=%d url=%s", voice, len(audio), assetURL)
	return assetURL, nil
}

func (c *qiniuClient) synthesizeBytes(ctx context.Context, text, voice, encoding string, speed float64) ([]byte, error) {
	endpoint := c.endpoint()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	header.Set("VoiceType", voice)

	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, apperr.Upstream("TTS WebSocket连接失败", err)
	}
	defer conn.Close()

	req := ttsRequest{}
	req.Audio.VoiceType = voice
	req.Audio.Encoding = encoding
	req.Audio.SpeedRatio = speed
	req.Request.Text = text

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	// 请求以二进制帧发送，响应为携带 Base64 数据的文本帧。
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return nil, apperr.Upstream("TTS 请求发送失败", err)
	}

	deadline := time.Now().Add(readTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	var audio []byte
	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return nil, apperr.Upstream("TTS 响应读取失败", readErr)
		}

		var msg ttsServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, apperr.Upstream("TTS 响应解析失败", err)
		}
		if msg.Code != 0 && msg.Code != 200 {
			return nil, apperr.Upstream(fmt.Sprintf("TTS 服务错误: %s", msg.Message), nil)
		}
		if msg.Data != "" {
			chunk, decodeErr := base64.StdEncoding.DecodeString(msg.Data)
			if decodeErr != nil {
				return nil, apperr.Upstream("TTS 音频解码失败", decodeErr)
			}
			audio = append(audio, chunk...)
		}
		// 负序号表示最后一帧。
		if msg.Sequence < 0 {
			return audio, nil
		}
	}
}

func (c *qiniuClient) endpoint() string {
	if base := strings.TrimSpace(c.cfg.BaseURL); base != "" {
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			scheme := "wss"
			if u.Scheme == "ws" || u.Scheme == "http" {
				scheme = "ws"
			}
			path := u.Path
			if path == "" || path == "/" {
				path = defaultTTSPath
			}
			return scheme + "://" + u.Host + path
		}
	}
	return "wss://" + defaultTTSHost + defaultTTSPath
}
