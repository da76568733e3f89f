package resource

import (
	"time"

	"github.com/uptrace/bun"
)

type Resource struct {
	bun.BaseModel `bun:"table:resources,alias:r"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Title       string    `bun:"title,notnull" json:"title"`
	S3Key       string    `bun:"s3_key,notnull,unique" json:"-"`
	ContentType string    `bun:"content_type,notnull" json:"contentType"`
	SizeBytes   int64     `bun:"size_bytes,notnull" json:"sizeBytes"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// Listing is a resource with a short-lived read link. URL is null when the
// link could not be signed.
type Listing struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	URL       *string   `json:"url"`
}

type UploadResponse struct {
	ResourceID int64  `json:"resourceId"`
	Title      string `json:"title"`
}

type SignedURL struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}

type DeleteBatchRequest struct {
	BatchID int64 `json:"batchId" validate:"required,gt=0"`
}

type DeleteResourceRequest struct {
	ResourceID int64 `json:"resourceId" validate:"required,gt=0"`
}

type DeleteBatchResponse struct {
	Message          string  `json:"message"`
	DeletedResources []int64 `json:"deletedResources"`
}
