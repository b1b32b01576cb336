package evidence

import "time"

// UploadIndex describes one evidence upload. Its UploadID is what a dispute
// cites as its evidence reference.
type UploadIndex struct {
	UploadID   string    `json:"upload_id"`
	UploadedBy string    `json:"uploaded_by"`
	Timestamp  time.Time `json:"timestamp"`
	Files      []string  `json:"files"`
}
