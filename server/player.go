package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emiago/diago"
)

// player is implemented by both inbound and outbound diago dialogs.
type player interface {
	PlaybackCreate() (diago.AudioPlayback, error)
}

// ctxReader ends the stream once ctx is done, which stops a running playback
// at the next frame.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, io.EOF
	}
	return c.r.Read(p)
}

// playFile plays one wav clip from the sounds directory.
func playFile(ctx context.Context, p player, dir, clip string) error {
	f, err := os.Open(filepath.Join(dir, clip))
	if err != nil {
		return fmt.Errorf("error opening audio file %s: %w", clip, err)
	}
	defer f.Close()
	return play(ctx, p, f)
}

func play(ctx context.Context, p player, r io.Reader) error {
	pb, err := p.PlaybackCreate()
	if err != nil {
		return fmt.Errorf("error creating playback: %w", err)
	}
	if _, err := pb.Play(ctxReader{ctx: ctx, r: r}, "audio/wav"); err != nil {
		return fmt.Errorf("error playing audio: %w", err)
	}
	return nil
}

// loopHold plays clip, or the silence buffer when clip is empty, until ctx is
// done or playback fails.
func loopHold(ctx context.Context, p player, dir, clip string, silence []byte) error {
	for ctx.Err() == nil {
		var err error
		if clip == "" {
			err = play(ctx, p, bytes.NewReader(silence))
		} else {
			err = playFile(ctx, p, dir, clip)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
