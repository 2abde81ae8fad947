package infra

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// maxFetchBytes bounds downloads from storage.
var maxFetchBytes int64 = 200 << 20

var errFetchTooLarge = errors.New("stored audio exceeds fetch limit")

var audioExt = map[string]string{
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mp4":   ".m4a",
	"audio/mpeg":  ".mp3",
}

func extFor(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := audioExt[mt]; ok {
		return ext
	}
	return ".bin"
}

// objectKey builds "<patient>/<yyyy-mm-dd>/<nanoid><ext>".
func objectKey(meta ports.UploadMeta, now time.Time) (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate object id: %w", err)
	}
	patient := meta.PatientID
	if patient == "" {
		patient = "unassigned"
	}
	return path.Join(url.PathEscape(patient), now.UTC().Format("2006-01-02"), id+extFor(meta.MimeType)), nil
}

// progressReader reports the share of total bytes read so far.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     int
	progress ports.ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ports.ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, last: -1, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.progress != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		// 100 is reported by the caller once the server confirmed the write
		if pct > 99 {
			pct = 99
		}
		if pct != p.last {
			p.last = pct
			p.progress(pct)
		}
	}
	return n, err
}
