package models

import "time"

// Artifact 是目录中记录的一个已存储制品。
type Artifact struct {
	BaseModel
	Path      string    `gorm:"type:varchar(1024);uniqueIndex;not null" json:"path"` // 存储路径 (artifact_path)
	FileName  string    `gorm:"type:varchar(255);not null" json:"fileName"`
	Size      int64     `gorm:"not null" json:"size"`
	Digest    string    `gorm:"type:varchar(64)" json:"digest"` // hex BLAKE2b-256
	StoredAt  time.Time `gorm:"index;not null" json:"storedAt"`
	RequestID string    `gorm:"type:varchar(64)" json:"requestId,omitempty"`
}

// TableName 指定 Artifact 模型的表名。
func (Artifact) TableName() string {
	return "artifacts"
}
