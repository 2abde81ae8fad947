package models

// Recording is a finalized take held in memory until it is uploaded.
// The container is opaque: nothing in this module inspects or re-encodes it.
type Recording struct {
	Data            []byte
	DurationSeconds int
	MimeType        string
}

func (r *Recording) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Data))
}
