package backend

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/pkg/errors"
)

// Transcriber posts one segment as multipart field "audio" and expects
// {"text": "..."} back.
type Transcriber struct {
	client
}

var _ core.Transcriber = (*Transcriber)(nil)

func NewTranscriber(cfg Config, hc *http.Client) *Transcriber {
	return &Transcriber{client: newClient("stt", cfg, hc)}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", errors.Wrap(err, "multipart")
	}
	if _, err := fw.Write(audio); err != nil {
		return "", errors.Wrap(err, "multipart")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "multipart")
	}
	payload := body.Bytes()

	var out struct {
		Text string `json:"text"`
	}
	err = t.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
