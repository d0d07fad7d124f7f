package core

import "context"

// Transcriber turns one recorded speech segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SignRecognizer labels one encoded video frame. An empty label means nothing
// was recognized with enough confidence.
type SignRecognizer interface {
	Recognize(ctx context.Context, image string) (string, error)
}

// Player plays one audio clip. done is invoked exactly once when playback
// ends or fails, unless Start itself returned an error.
type Player interface {
	Start(ctx context.Context, audio []byte, done func(error)) (stop func(), err error)
}
