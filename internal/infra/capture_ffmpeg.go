package infra

import (
	"errors"
	"io/fs"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/go-utils/logger"
)

const (
	captureMime       = "audio/ogg;codecs=opus"
	maxStderrPreview  = 512
	captureChunkBytes = 4096
)

// FFmpegCapture records the workstation microphone through an ffmpeg child
// process that encodes Ogg/Opus to stdout. Only one stream is live at a time.
type FFmpegCapture struct {
	path   string
	format string
	device string
	log    *logger.ZapLogger

	streams chan struct{}
}

func NewFFmpegCapture(path, format, device string, log *logger.ZapLogger) *FFmpegCapture {
	if path == "" {
		path = "ffmpeg"
	}
	if format == "" || device == "" {
		f, d := defaultInput(runtime.GOOS)
		if format == "" {
			format = f
		}
		if device == "" {
			device = d
		}
	}
	return &FFmpegCapture{
		path:    path,
		format:  format,
		device:  device,
		log:     log,
		streams: make(chan struct{}, 1),
	}
}

func defaultInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (c *FFmpegCapture) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-f", c.format,
		"-i", c.device,
		"-vn",
		"-ac", "1",
		"-ar", "48000",
		"-c:a", "libopus",
		"-b:a", "32k",
		"-f", "ogg",
		"-flush_packets", "1",
		"pipe:1",
	}
}

// classifyCaptureError maps an ffmpeg failure onto a device error kind.
func classifyCaptureError(stderr string, err error) *apperrors.DeviceError {
	var kind apperrors.DeviceErrorKind
	msg := strings.ToLower(stderr)

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		kind = apperrors.DeviceUnsupported
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "not permitted"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "not authorized"):
		kind = apperrors.DevicePermissionDenied
	case strings.Contains(msg, "device or resource busy"),
		strings.Contains(msg, "resource temporarily unavailable"):
		kind = apperrors.DeviceBusy
	case strings.Contains(msg, "unknown input format"),
		strings.Contains(msg, "unknown encoder"),
		strings.Contains(msg, "not supported"):
		kind = apperrors.DeviceUnsupported
	default:
		kind = apperrors.DeviceNotFound
	}

	if s := strings.TrimSpace(stderr); s != "" {
		err = errors.New(trimPreview(s))
	}
	return &apperrors.DeviceError{Kind: kind, Err: err}
}

func trimPreview(s string) string {
	r := []rune(s)
	if len(r) <= maxStderrPreview {
		return s
	}
	return string(r[len(r)-maxStderrPreview:])
}
