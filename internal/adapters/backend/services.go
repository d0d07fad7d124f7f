package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pkg/errors"
)

func postJSON(url string, payload []byte) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

// Synthesizer posts {"text"} and expects {"audio": base64} back.
type Synthesizer struct {
	client
}

var _ core.Synthesizer = (*Synthesizer)(nil)

func NewSynthesizer(cfg Config, hc *http.Client) *Synthesizer {
	return &Synthesizer{client: newClient("tts", cfg, hc)}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	var out struct {
		Audio string `json:"audio"`
	}
	if err := s.do(ctx, postJSON(s.cfg.URL, payload), &out); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return nil, &core.BackendError{Service: s.service, Err: errors.Wrap(err, "decode audio")}
	}
	return audio, nil
}

// SignRecognizer posts {"image": data URL} and expects {"label"} back.
type SignRecognizer struct {
	client
}

var _ core.SignRecognizer = (*SignRecognizer)(nil)

func NewSignRecognizer(cfg Config, hc *http.Client) *SignRecognizer {
	return &SignRecognizer{client: newClient("sign", cfg, hc)}
}

func (r *SignRecognizer) Recognize(ctx context.Context, image string) (string, error) {
	payload, err := json.Marshal(map[string]string{"image": image})
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}
	var out struct {
		Label string `json:"label"`
	}
	if err := r.do(ctx, postJSON(r.cfg.URL, payload), &out); err != nil {
		return "", err
	}
	return out.Label, nil
}
