package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ScriptToMovie-server/config"
)

// TTSClient 配音 worker 客户端：文本 → 音频字节
type TTSClient struct {
	Endpoint string
	Lang     string
	HTTP     *http.Client
}

func NewTTSClient() *TTSClient {
	return &TTSClient{
		Endpoint: config.AppConfig.AI.VoiceAPI,
		Lang:     config.AppConfig.AI.VoiceLang,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Synthesize POST /v1/synthesize → mp3 字节流
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	jsonBody, err := json.Marshal(map[string]string{
		"text": text,
		"lang": c.Lang,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/v1/synthesize", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts worker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tts worker status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return io.ReadAll(resp.Body)
}
