package source

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"os/exec"
	"strconv"
	"time"
)

type Type string

const (
	TypeFile Type = "file"
	TypeRTSP Type = "rtsp"
)

// ErrEndOfStream is returned when a file source runs out of frames.
var ErrEndOfStream = errors.New("end of stream")

type Config struct {
	Source         string
	Type           Type
	Width          int
	Height         int
	TargetFPS      int
	ReconnectDelay time.Duration
}

// Frame is one decoded video frame plus its raw JPEG bytes.
type Frame struct {
	Seq    int
	JPEG   []byte
	Image  image.Image
	ReadAt time.Time
}

// FrameSource reads frames from ffmpeg's image2pipe output. ffmpeg does
// the demux/decode work; we split the MJPEG byte stream on JPEG markers.
type FrameSource struct {
	cfg    Config
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
	seq    int
	opened bool
	logger *log.Logger
}

func New(cfg Config) *FrameSource {
	return &FrameSource{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[Source] ", log.LstdFlags),
	}
}

func (s *FrameSource) ffmpegArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.cfg.Type == TypeRTSP {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", s.cfg.Source)
	if s.cfg.Width > 0 && s.cfg.Height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height))
	}
	if s.cfg.TargetFPS > 0 {
		args = append(args, "-r", strconv.Itoa(s.cfg.TargetFPS))
	}
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return args
}

func (s *FrameSource) Open() error {
	if s.opened {
		return nil
	}
	cmd := exec.Command("ffmpeg", s.ffmpegArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	s.cmd = cmd
	s.stdout = stdout
	s.buf = s.buf[:0]
	s.opened = true
	s.logger.Printf("opened %s source %s", s.cfg.Type, s.cfg.Source)
	return nil
}

func (s *FrameSource) readRaw() ([]byte, error) {
	chunk := make([]byte, 32*1024)
	for {
		if frame, rest, ok := extractFrame(s.buf); ok {
			s.buf = append(s.buf[:0], rest...)
			out := make([]byte, len(frame))
			copy(out, frame)
			return out, nil
		}
		n, err := s.stdout.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// Read returns the next frame. For file sources a clean EOF becomes
// ErrEndOfStream. For RTSP sources one reconnect is attempted before the
// error is surfaced; the caller owns the failure counter.
func (s *FrameSource) Read() (*Frame, error) {
	if !s.opened {
		if err := s.Open(); err != nil {
			return nil, err
		}
	}

	raw, err := s.readRaw()
	if err != nil {
		if s.cfg.Type == TypeFile {
			if errors.Is(err, io.EOF) {
				return nil, ErrEndOfStream
			}
			return nil, err
		}
		s.logger.Printf("rtsp read failed (%v), reconnecting in %v", err, s.cfg.ReconnectDelay)
		s.Close()
		time.Sleep(s.cfg.ReconnectDelay)
		if err := s.Open(); err != nil {
			return nil, err
		}
		raw, err = s.readRaw()
		if err != nil {
			return nil, err
		}
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	s.seq++
	return &Frame{Seq: s.seq, JPEG: raw, Image: img, ReadAt: time.Now()}, nil
}

func (s *FrameSource) Close() error {
	if !s.opened {
		return nil
	}
	s.opened = false
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return nil
}
