package models

import "time"

type Transcript struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	Text      string    `db:"text" json:"text"`
	Language  string    `db:"language" json:"language"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
