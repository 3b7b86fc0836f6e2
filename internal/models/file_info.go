package models

import "time"

// FileInfo represents metadata about a stored diagram or rules file.
type FileInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	AddedAt time.Time `json:"addedAt"`
}
