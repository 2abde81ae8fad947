//go:build !unix

package infra

import (
	"context"
	"errors"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/ports"
)

func (c *FFmpegCapture) Acquire(ctx context.Context) (ports.CaptureStream, error) {
	return nil, &apperrors.DeviceError{
		Kind: apperrors.DeviceUnsupported,
		Err:  errors.New("ffmpeg capture needs a unix host"),
	}
}
