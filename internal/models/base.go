package models

import (
	"strconv"
	"time"
)

// BaseModel defines the common fields for catalog records.
// Records are overwritten in place on re-upload, so there is no soft delete.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IDString returns the ID as a string.
func (b *BaseModel) IDString() string {
	return strconv.FormatUint(uint64(b.ID), 10)
}
