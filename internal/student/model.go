package student

import (
	"time"

	"resource-service/internal/device"

	"github.com/uptrace/bun"
)

type Student struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID            int64                   `bun:"id,pk,autoincrement" json:"id"`
	Name          string                  `bun:"name,notnull" json:"name"`
	Email         string                  `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string                  `bun:"password_hash,notnull" json:"-"`
	DeviceLimit   int                     `bun:"device_limit,notnull" json:"deviceLimit"`
	ActiveDevices []string                `bun:"active_devices,array" json:"activeDevices"`
	DeviceTokens  map[string]device.Token `bun:"device_tokens,type:jsonb" json:"-"`
	BatchIDs      []int64                 `bun:"batch_ids,array" json:"batchIds"`
	Version       int64                   `bun:"version,notnull" json:"-"`
	CreatedAt     time.Time               `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt     time.Time               `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

type EnrollRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
}

type EnrollResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Message  string `json:"message"`
}

type SetPasswordRequest struct {
	StudentID   int64  `json:"studentId" validate:"required,gt=0"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

type SetDeviceLimitRequest struct {
	StudentID   int64 `json:"studentId" validate:"required,gt=0"`
	DeviceLimit int   `json:"deviceLimit" validate:"required"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

type ResetPasswordRequest struct {
	StudentID int64 `json:"studentId" validate:"required,gt=0"`
}

// Summary is the admin listing view of a student.
type Summary struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	DeviceLimit   int      `json:"deviceLimit"`
	ActiveDevices []string `json:"activeDevices"`
	Batches       []string `json:"batches,omitempty"`
}

// Credentials is a freshly generated password, returned exactly once.
type Credentials struct {
	Name     string
	Email    string
	Password string
}
