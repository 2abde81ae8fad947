package infra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/fonodesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisperSTTRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "pt", r.FormValue("language"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "audio.ogg", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "opus", string(data))

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  olá paciente \n"})
	}))
	defer srv.Close()

	stt := NewWhisperSTT(srv.URL+"/", "k", "", srv.Client())
	text, raw, err := stt.Recognize(context.Background(), []byte("opus"), "audio/ogg; codecs=opus", "pt-BR")
	require.NoError(t, err)
	assert.Equal(t, "olá paciente", text)
	assert.NotEmpty(t, raw)
}

func TestWhisperSTTHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := NewWhisperSTT(srv.URL, "k", "whisper-1", srv.Client()).
		Recognize(context.Background(), []byte("x"), "audio/webm", "pt-BR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestIsoLanguage(t *testing.T) {
	assert.Equal(t, "pt", isoLanguage("pt-BR"))
	assert.Equal(t, "en", isoLanguage("en"))
	assert.Empty(t, isoLanguage("!!"))
}

func TestYandexSTTRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Api-Key key", r.Header.Get("Authorization"))
		assert.Equal(t, "oggopus", r.URL.Query().Get("format"))
		assert.Equal(t, "pt-BR", r.URL.Query().Get("lang"))
		_, _ = w.Write([]byte(`{"result":"bom dia"}`))
	}))
	defer srv.Close()

	stt := NewYandexSTTService("key", srv.URL, srv.Client())
	text, _, err := stt.Recognize(context.Background(), []byte("opus"), "audio/ogg", "pt-BR")
	require.NoError(t, err)
	assert.Equal(t, "bom dia", text)

	_, _, err = stt.Recognize(context.Background(), []byte("x"), "audio/webm", "pt-BR")
	assert.Error(t, err)
}

func TestYandexSTTErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"BAD_REQUEST","error_message":"audio too long"}`))
	}))
	defer srv.Close()

	_, _, err := NewYandexSTTService("key", srv.URL, srv.Client()).
		Recognize(context.Background(), []byte("x"), "audio/ogg", "pt-BR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio too long")
}

type stubSTT struct {
	calls atomic.Int32
	text  string
	err   error
	mime  string
}

func (s *stubSTT) Recognize(ctx context.Context, audio []byte, mimeType, lang string) (string, []byte, error) {
	s.calls.Add(1)
	s.mime = mimeType
	return s.text, []byte("raw"), s.err
}

func TestURLTranscriber(t *testing.T) {
	ctx := context.Background()
	storage := testutil.NewFakeStorage("https://store/a")
	url, err := storage.Upload(ctx, []byte("opus"), ports.UploadMeta{PatientID: "p1", MimeType: "audio/webm"}, nil)
	require.NoError(t, err)

	stt := &stubSTT{text: "texto"}
	tr := NewURLTranscriber(storage, stt, testutil.Logger())

	text, err := tr.Transcribe(ctx, url, "S1", "pt-BR")
	require.NoError(t, err)
	assert.Equal(t, "texto", text)
	assert.Equal(t, "audio/webm", stt.mime)

	_, err = tr.Transcribe(ctx, "https://store/missing", "S1", "pt-BR")
	assert.ErrorIs(t, err, testutil.ErrFake)
	assert.EqualValues(t, 1, stt.calls.Load())

	stt.err = errors.New("engine down")
	_, err = tr.Transcribe(ctx, url, "S1", "pt-BR")
	assert.EqualError(t, err, "engine down")
}
