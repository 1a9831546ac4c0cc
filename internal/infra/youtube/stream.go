package youtube

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	youtube "github.com/kkdai/youtube/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/WieserchGT/BetaGamers/internal/app/resolver"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

// OpenStream opens the audio of a track as s16le 48kHz stereo PCM. Search
// locators are resolved first. ctx bounds the open only; the returned stream
// lives until it is closed.
func (c *Client) OpenStream(ctx context.Context, t track.Track) (io.ReadCloser, error) {
	link := t.Locator
	if t.IsSearch() {
		found, err := c.SearchFirst(ctx, t.SearchTerms())
		if err != nil {
			return nil, resolver.Wrap(resolver.ErrStreamUnavailable, err, "open "+t.Title)
		}
		link = found
	}

	video, err := c.yt.GetVideoContext(ctx, link)
	if err != nil {
		return nil, classify(err, resolver.ErrStreamUnavailable)
	}

	format, err := audioFormat(video)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, _, err := c.yt.GetStreamContext(streamCtx, video, format)
	if err != nil {
		cancel()
		return nil, classify(err, resolver.ErrStreamUnavailable)
	}

	ffmpeg := exec.Command(c.cfg.FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	ffmpeg.Stdin = stream
	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		cancel()
		stream.Close()
		return nil, resolver.Wrap(resolver.ErrStreamUnavailable, err, "ffmpeg stdout pipe")
	}
	if err := ffmpeg.Start(); err != nil {
		cancel()
		stream.Close()
		return nil, resolver.Wrap(resolver.ErrStreamUnavailable, err, "ffmpeg start")
	}

	zlog.Debug().Msgf("youtube stream opened: video=%s itag=%d mime=%q", video.ID, format.ItagNo, format.MimeType)
	return newPCMStream(out, stream, ffmpeg, cancel), nil
}

// audioFormat prefers audio-only formats, then any format carrying audio.
func audioFormat(video *youtube.Video) (*youtube.Format, error) {
	formats := video.Formats.Type("audio")
	if len(formats) == 0 {
		formats = video.Formats.WithAudioChannels()
	}
	if len(formats) == 0 {
		return nil, errors.Wrapf(resolver.ErrStreamUnavailable, "no audio formats for %s", video.ID)
	}
	return &formats[0], nil
}

// pcmStream is the stdout of a running ffmpeg. Close kills the process and
// reaps it in the background: Wait closes the pipe, so it must not run while
// a Read is still in flight.
type pcmStream struct {
	out    io.Reader
	src    io.Closer
	kill   func() error
	wait   func() error
	cancel context.CancelFunc

	once sync.Once
}

func newPCMStream(out io.Reader, src io.Closer, cmd *exec.Cmd, cancel context.CancelFunc) *pcmStream {
	return &pcmStream{
		out: out,
		src: src,
		kill: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
		wait:   cmd.Wait,
		cancel: cancel,
	}
}

func (s *pcmStream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *pcmStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.src.Close()
		if err := s.kill(); err != nil {
			zlog.Debug().Msgf("ffmpeg kill: err=%v", err)
		}
		go func() {
			if err := s.wait(); err != nil {
				zlog.Debug().Msgf("ffmpeg exited: err=%v", err)
			}
		}()
	})
	return nil
}
