package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUnsupportedImage 参考图格式不被图生视频接口支持
var ErrUnsupportedImage = errors.New("unsupported reference image format")

// DetectImageMime 通过 magic bytes 判断图片格式。
// AVIF/HEIF 厂商不收，显式报错；无法识别时按 jpeg 兜底。
func DetectImageMime(data []byte) (string, error) {
	if len(data) < 12 {
		return "", fmt.Errorf("image too small to identify: %w", ErrUnsupportedImage)
	}
	if bytes.HasPrefix(data, []byte{0xff, 0xd8}) {
		return "image/jpeg", nil
	}
	if bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		return "image/png", nil
	}
	if bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "image/webp", nil
	}
	// AVIF / HEIF 系列共享 offset 4 处的 ftyp box
	switch string(data[4:8]) {
	case "ftyp", "avif", "avis", "heic", "heif":
		return "", fmt.Errorf("AVIF/HEIF images are not accepted by the video vendor: %w", ErrUnsupportedImage)
	}
	return "image/jpeg", nil
}

// FetchImageAsBase64 下载参考图并编码为 base64（不带 data-URI 前缀，厂商不接受前缀）
func FetchImageAsBase64(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image status: %d", resp.StatusCode)
	}
	// 限额多读 1 字节探测超限，避免先把超大响应整个读进内存
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024+1))
	if err != nil {
		return "", fmt.Errorf("read image failed: %w", err)
	}
	if len(data) > 10*1024*1024 {
		return "", fmt.Errorf("reference image too large, limit is 10 MB")
	}
	if _, err := DetectImageMime(data); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
