package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
)

// LocalStoragePrefix is the route the agent serves stored audio under.
const LocalStoragePrefix = "/audio/"

var errOutsideStorage = errors.New("audio url is outside local storage")

// LocalStorage keeps recordings in a directory served by the agent itself.
type LocalStorage struct {
	dir       string
	publicURL string
}

func NewLocalStorage(dir, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, data []byte, meta ports.UploadMeta, progress ports.ProgressFunc) (string, error) {
	key, err := objectKey(meta, time.Now())
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	tmp := full + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}

	src := newProgressReader(bytes.NewReader(data), int64(len(data)), progress)
	_, err = io.Copy(f, ctxReader{ctx: ctx, r: src})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, full)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write audio file: %w", err)
	}

	return s.publicURL + LocalStoragePrefix + key, nil
}

func (s *LocalStorage) Fetch(ctx context.Context, audioURL string) ([]byte, string, error) {
	full, err := s.pathFor(audioURL)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, "", fmt.Errorf("read audio file: %w", err)
	}
	if info.Size() > maxFetchBytes {
		return nil, "", fmt.Errorf("read audio file: %w (%d bytes)", errFetchTooLarge, info.Size())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, "", fmt.Errorf("read audio file: %w", err)
	}
	return data, mimeForExt(filepath.Ext(full)), nil
}

func (s *LocalStorage) pathFor(audioURL string) (string, error) {
	rest, ok := strings.CutPrefix(audioURL, s.publicURL+LocalStoragePrefix)
	if !ok {
		return "", errOutsideStorage
	}
	full := filepath.Join(s.dir, filepath.FromSlash(rest))
	rel, err := filepath.Rel(s.dir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errOutsideStorage
	}
	return full, nil
}

// Handler serves stored files under LocalStoragePrefix.
func (s *LocalStorage) Handler() http.Handler {
	return http.StripPrefix(LocalStoragePrefix, http.FileServer(http.Dir(s.dir)))
}

func mimeForExt(ext string) string {
	for mt, e := range audioExt {
		if e == ext && mt != "audio/x-wav" {
			return mt
		}
	}
	return "application/octet-stream"
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
