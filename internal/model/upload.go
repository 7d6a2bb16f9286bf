package model

import "time"

// UploadedFile describes an audio file accepted by POST /api/upload.
// ID doubles as the storage key and later as the separation job id.
type UploadedFile struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimetype"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// UploadResponse wraps the uploaded file
type UploadResponse struct {
	Success bool          `json:"success"`
	File    *UploadedFile `json:"file"`
}
