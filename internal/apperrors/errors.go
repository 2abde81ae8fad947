// Package apperrors holds the failure taxonomy shared by every pipeline stage.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrStageOrder            = errors.New("pipeline stage out of order")
	ErrInvalidState          = errors.New("invalid recorder state")
	ErrNoRecording           = errors.New("no recording to hand off")
	ErrEmptyRecording        = errors.New("recording has no audio")
	ErrBusy                  = errors.New("pipeline is busy")
	ErrTranscriptionInFlight = errors.New("transcription already in progress")
	ErrUnknownTemplate       = errors.New("unknown report template")
	ErrNotFound              = errors.New("not found")
)

// Recovery names the explicit action the operator can take after a failure.
type Recovery string

const (
	RecoveryRetryStart         Recovery = "retry_start"
	RecoveryResubmitUpload     Recovery = "resubmit_upload"
	RecoveryRetrySession       Recovery = "retry_session"
	RecoveryRetryTranscription Recovery = "retry_transcription"
	RecoveryRetrySave          Recovery = "retry_save"
	RecoveryRerecord           Recovery = "rerecord"
)

// ======================= DEVICE =======================

type DeviceErrorKind string

const (
	DevicePermissionDenied DeviceErrorKind = "permission_denied"
	DeviceNotFound         DeviceErrorKind = "not_found"
	DeviceBusy             DeviceErrorKind = "busy"
	DeviceUnsupported      DeviceErrorKind = "unsupported"
)

type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("microphone %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("microphone %s", e.Kind)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Recovery() Recovery { return RecoveryRetryStart }

func (e *DeviceError) UserMessage() string {
	switch e.Kind {
	case DevicePermissionDenied:
		return "Permissão para usar o microfone foi negada. Libere o acesso e tente novamente."
	case DeviceNotFound:
		return "Nenhum microfone encontrado. Conecte um dispositivo e tente novamente."
	case DeviceBusy:
		return "O microfone está em uso por outro aplicativo."
	default:
		return "Gravação de áudio não é suportada neste dispositivo."
	}
}

// ======================= UPLOAD =======================

type UploadErrorKind string

const (
	UploadOversize    UploadErrorKind = "oversize"
	UploadInvalidType UploadErrorKind = "invalid_type"
	UploadNetwork     UploadErrorKind = "network"
)

type UploadError struct {
	Kind UploadErrorKind
	Err  error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upload %s", e.Kind)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Validation failures cannot be fixed by resubmitting the same bytes.
func (e *UploadError) Recovery() Recovery {
	if e.Kind == UploadNetwork {
		return RecoveryResubmitUpload
	}
	return RecoveryRerecord
}

func (e *UploadError) UserMessage() string {
	switch e.Kind {
	case UploadOversize:
		return "O áudio excede o limite de 100MB."
	case UploadInvalidType:
		return "O arquivo gravado não é um áudio válido."
	default:
		return "Falha de rede ao enviar o áudio. Tente enviar novamente."
	}
}

// ======================= SESSION =======================

type SessionCreateError struct {
	AudioURL string
	Err      error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create session for %s: %v", e.AudioURL, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

func (e *SessionCreateError) Recovery() Recovery { return RecoveryRetrySession }

func (e *SessionCreateError) UserMessage() string {
	return "O áudio foi salvo, mas a sessão não pôde ser registrada. Tente registrar novamente."
}

// ======================= TRANSCRIPTION =======================

type TranscriptionErrorKind string

const (
	TranscriptionBackend TranscriptionErrorKind = "backend"
	TranscriptionTimeout TranscriptionErrorKind = "timeout"
)

type TranscriptionError struct {
	Kind      TranscriptionErrorKind
	SessionID string
	Err       error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription %s for session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

func (e *TranscriptionError) Recovery() Recovery { return RecoveryRetryTranscription }

func (e *TranscriptionError) UserMessage() string {
	if e.Kind == TranscriptionTimeout {
		return "A transcrição demorou demais. O áudio está salvo; tente transcrever novamente."
	}
	return "Erro ao transcrever o áudio. O áudio está salvo; tente transcrever novamente."
}

// ======================= SAVE =======================

type SaveError struct {
	Err error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save report: %v", e.Err) }

func (e *SaveError) Unwrap() error { return e.Err }

func (e *SaveError) Recovery() Recovery { return RecoveryRetrySave }

func (e *SaveError) UserMessage() string {
	return "Não foi possível salvar o relatório. O texto editado foi mantido; tente salvar novamente."
}

// StageFailure is implemented by every error of the taxonomy above.
type StageFailure interface {
	error
	Recovery() Recovery
	UserMessage() string
}

// AsStageFailure unwraps err into a taxonomy error, if it carries one.
func AsStageFailure(err error) (StageFailure, bool) {
	var (
		dev  *DeviceError
		up   *UploadError
		sess *SessionCreateError
		tr   *TranscriptionError
		save *SaveError
	)
	switch {
	case errors.As(err, &dev):
		return dev, true
	case errors.As(err, &up):
		return up, true
	case errors.As(err, &sess):
		return sess, true
	case errors.As(err, &tr):
		return tr, true
	case errors.As(err, &save):
		return save, true
	}
	return nil, false
}
