package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKlingClient(baseURL string) *KlingClient {
	return &KlingClient{
		BaseURL:      baseURL,
		AccessKey:    "test-ak",
		SecretKey:    "test-sk",
		AspectRatio:  "16:9",
		PollInterval: 10 * time.Millisecond,
		MaxWait:      300 * time.Millisecond,
		HTTP:         &http.Client{Timeout: 5 * time.Second},
	}
}

func clipRequest() *ClipRequest {
	return &ClipRequest{
		ProjectId:   "proj-1",
		SceneId:     "scene-1",
		SceneNumber: 1,
		Prompt:      "a quiet street at dawn",
		Duration:    5,
	}
}

func TestGenerateClipNoCredentialsUsesMock(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	c.AccessKey = ""
	c.SecretKey = ""

	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.NoError(t, err)
	require.NotNil(t, clip)
	assert.Equal(t, MockVideoURL, clip.VideoUrl)
	assert.Equal(t, 5, clip.Duration)
	assert.NotEmpty(t, clip.VideoKey)
	assert.False(t, called, "no HTTP call may happen without credentials")
}

func TestGenerateClipSuccess(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.Equal(t, "/videos/text2video", r.URL.Path)
			assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
			fmt.Fprint(w, `{"code":0,"data":{"task_id":"task-1"}}`)
			return
		}
		assert.Equal(t, "/videos/text2video/task-1", r.URL.Path)
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"code":0,"data":{"task_status":"processing"}}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"task_status":"succeed","task_result":{"videos":[{"url":"http://cdn/final.mp4"}]}}}`)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/final.mp4", clip.VideoUrl)
	assert.Equal(t, 5, clip.Duration)
	assert.GreaterOrEqual(t, polls, 3)
}

// 轮询超时必须如实上抛，不允许吞成 mock
func TestGenerateClipTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"code":0,"data":{"task_id":"task-slow"}}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"task_status":"processing"}}`)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	c.MaxWait = 60 * time.Millisecond

	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.Error(t, err)
	assert.Nil(t, clip)
	assert.True(t, errors.Is(err, ErrGenerationTimeout))
	assert.Contains(t, err.Error(), "task-slow")
}

// 429 + 厂商 code 1102（余额不足）按临时性错误降级为 mock
func TestGenerateClipInsufficientBalanceDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":1102,"message":"insufficient balance"}`)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.NoError(t, err)
	assert.Equal(t, MockVideoURL, clip.VideoUrl)
}

func TestGenerateClipServerErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.NoError(t, err)
	assert.Equal(t, MockVideoURL, clip.VideoUrl)
}

// 厂商明确拒绝（4xx）是真失败，不降级
func TestGenerateClipRejectedIsRealError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":1001,"message":"prompt rejected"}`)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.Error(t, err)
	assert.Nil(t, clip)
	assert.Contains(t, err.Error(), "HTTP 400")
}

// 任务在厂商侧失败同样是真失败
func TestGenerateClipVendorFailedIsRealError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"code":0,"data":{"task_id":"task-bad"}}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"task_status":"failed","task_status_msg":"content policy"}}`)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	clip, err := c.GenerateClip(context.Background(), clipRequest())
	require.Error(t, err)
	assert.Nil(t, clip)
	assert.Contains(t, err.Error(), "content policy")
	assert.False(t, errors.Is(err, ErrGenerationTimeout))
}

// 图生视频：分镜帧可用时走 i2v 端点
func TestGenerateClipUsesImageEndpoint(t *testing.T) {
	jpeg := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 32)...)
	var submitPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/frame.jpg":
			w.Write(jpeg)
		case r.Method == http.MethodPost:
			submitPath = r.URL.Path
			fmt.Fprint(w, `{"code":0,"data":{"task_id":"task-i2v"}}`)
		default:
			fmt.Fprint(w, `{"code":0,"data":{"task_status":"succeed","task_result":{"videos":[{"url":"http://cdn/i2v.mp4"}]}}}`)
		}
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	req := clipRequest()
	req.ImageURL = srv.URL + "/frame.jpg"

	clip, err := c.GenerateClip(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/videos/image2video", submitPath)
	assert.Equal(t, "http://cdn/i2v.mp4", clip.VideoUrl)
}

// 分镜帧拉取失败 → 退回文生视频，而不是整单失败
func TestGenerateClipFrameFetchFailureFallsBackToText(t *testing.T) {
	var submitPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/frame.jpg":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost:
			submitPath = r.URL.Path
			fmt.Fprint(w, `{"code":0,"data":{"task_id":"task-t2v"}}`)
		default:
			fmt.Fprint(w, `{"code":0,"data":{"task_status":"succeed","task_result":{"videos":[{"url":"http://cdn/t2v.mp4"}]}}}`)
		}
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	req := clipRequest()
	req.ImageURL = srv.URL + "/frame.jpg"

	clip, err := c.GenerateClip(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/videos/text2video", submitPath)
	assert.Equal(t, "http://cdn/t2v.mp4", clip.VideoUrl)
}

// 不支持的参考图格式是显式错误，不能静默降级
func TestGenerateClipUnsupportedImageIsRealError(t *testing.T) {
	avif := append([]byte{0, 0, 0, 0x1c}, []byte("ftypavif")...)
	avif = append(avif, make([]byte, 16)...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/frame.avif" {
			w.Write(avif)
			return
		}
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	c := testKlingClient(srv.URL)
	req := clipRequest()
	req.ImageURL = srv.URL + "/frame.avif"

	clip, err := c.GenerateClip(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, clip)
	assert.True(t, errors.Is(err, ErrUnsupportedImage))
}

func TestKlingDuration(t *testing.T) {
	assert.Equal(t, "5", klingDuration(3))
	assert.Equal(t, "5", klingDuration(5))
	assert.Equal(t, "5", klingDuration(7))
	assert.Equal(t, "10", klingDuration(8))
	assert.Equal(t, "10", klingDuration(30))
}

func TestNormalizeClipDuration(t *testing.T) {
	assert.Equal(t, 5, normalizeClipDuration(5))
	assert.Equal(t, 10, normalizeClipDuration(10))
	assert.Equal(t, 5, normalizeClipDuration(7))
	assert.Equal(t, 5, normalizeClipDuration(0))
}
