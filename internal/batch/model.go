package batch

import (
	"time"

	"github.com/uptrace/bun"
)

type Batch struct {
	bun.BaseModel `bun:"table:batches,alias:b"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Title     string    `bun:"title,notnull" json:"title"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

type CreateRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}
