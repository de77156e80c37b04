package model

import "time"

// EntryType tells directories and files apart in a listing.
type EntryType string

const (
	EntryDir  EntryType = "dir"
	EntryFile EntryType = "file"
)

// DirEntry is one line of a directory listing. SHA256 is set for files only
// and is recomputed on every listing.
type DirEntry struct {
	Type   EntryType `json:"type"`
	Name   string    `json:"name"`
	SHA256 string    `json:"sha256,omitempty"`
}

// UploadResult describes a completed upload. Only OK and DB are part of the
// public response body.
type UploadResult struct {
	OK            bool   `json:"ok"`
	DB            string `json:"db"`
	Prefix        string `json:"-"`
	Files         int    `json:"-"`
	Dirs          int    `json:"-"`
	Bytes         int64  `json:"-"`
	ArchiveSize   int64  `json:"-"`
	ArchiveSHA256 string `json:"-"`
}

// Upload is an audit record of one successful upload.
// This is a pure domain model with no database-specific dependencies or tags.
type Upload struct {
	ID            string    `json:"id"`
	DBName        string    `json:"db"`
	ArchiveSize   int64     `json:"archive_size"`
	ArchiveSHA256 string    `json:"archive_sha256"`
	LayoutPrefix  string    `json:"layout_prefix"`
	Files         int       `json:"files"`
	Dirs          int       `json:"dirs"`
	Bytes         int64     `json:"bytes"`
	CreatedAt     time.Time `json:"created_at"`
}
