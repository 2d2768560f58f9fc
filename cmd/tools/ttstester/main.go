// Command ttstester synthesizes a line of text through the configured TTS
// provider and prints the resulting asset URL. Useful for verifying speech
// credentials without starting the full server.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexusvoice/backend/internal/assets"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/internal/service/tts"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	text := flag.String("text", "你好，这是一条语音合成测试。", "TTS 输入文本")
	voice := flag.String("voice", "", "音色，默认使用配置中的音色")
	outDir := flag.String("out", "data/audio", "音频输出目录")
	timeout := flag.Duration("timeout", 90*time.Second, "合成超时")
	flag.Parse()

	store, err := assets.NewDiskStore(*outDir)
	if err != nil {
		log.Fatalf("初始化音频目录失败: %v", err)
	}

	svc := tts.New(cfg.Speech, store)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	url, err := svc.Synthesize(ctx, *text, *voice)
	if err != nil {
		log.Fatalf("合成失败: %v", err)
	}

	log.Printf("合成完成 url=%s 耗时=%s", url, time.Since(start))
}
