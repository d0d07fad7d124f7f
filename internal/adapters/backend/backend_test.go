package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{URL: url, Timeout: time.Second, MaxRetries: 2, RetryBase: time.Millisecond}
}

func TestTranscribeSendsMultipartSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "segment.webm", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("webm-bytes"), data)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello there"})
	}))
	defer srv.Close()

	text, err := NewTranscriber(testConfig(srv.URL), nil).Transcribe(context.Background(), []byte("webm-bytes"), "segment.webm")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	text, err := NewTranscriber(testConfig(srv.URL), nil).Transcribe(context.Background(), []byte("a"), "segment.webm")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewTranscriber(testConfig(srv.URL), nil).Transcribe(context.Background(), []byte("a"), "segment.webm")
	require.Error(t, err)
	var berr *core.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "stt", berr.Service)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "thank you", in["text"])
		_ = json.NewEncoder(w).Encode(map[string]string{"audio": base64.StdEncoding.EncodeToString([]byte("mp3"))})
	}))
	defer srv.Close()

	audio, err := NewSynthesizer(testConfig(srv.URL), nil).Synthesize(context.Background(), "thank you")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)
}

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "data:image/jpeg;base64,AAA", in["image"])
		_ = json.NewEncoder(w).Encode(map[string]string{"label": "Hello"})
	}))
	defer srv.Close()

	label, err := NewSignRecognizer(testConfig(srv.URL), nil).Recognize(context.Background(), "data:image/jpeg;base64,AAA")
	require.NoError(t, err)
	assert.Equal(t, "Hello", label)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 100
	_, err := NewSignRecognizer(cfg, nil).Recognize(ctx, "x")
	assert.Error(t, err)
}
