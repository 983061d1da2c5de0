package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"artifact-go/internal/models"
)

// ArtifactRepository 定义了制品目录的数据操作接口。
type ArtifactRepository interface {
	// Upsert 按 Path 插入或覆盖一条记录。
	Upsert(ctx context.Context, artifact *models.Artifact) error
	GetByPath(ctx context.Context, path string) (*models.Artifact, error)
	List(ctx context.Context, prefix string, limit int, offset int) ([]*models.Artifact, error)
}

// gormArtifactRepository 使用 GORM 实现 ArtifactRepository。
type gormArtifactRepository struct {
	db *gorm.DB
}

// NewGormArtifactRepository 创建一个新的基于 GORM 的 ArtifactRepository。
func NewGormArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &gormArtifactRepository{db: db}
}

func (r *gormArtifactRepository) Upsert(ctx context.Context, artifact *models.Artifact) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "size", "digest", "stored_at", "request_id", "updated_at"}),
	}).Create(artifact).Error
}

// GetByPath 通过存储路径检索记录，不存在时返回 gorm.ErrRecordNotFound。
func (r *gormArtifactRepository) GetByPath(ctx context.Context, path string) (*models.Artifact, error) {
	var artifact models.Artifact
	err := r.db.WithContext(ctx).Where("path = ?", path).First(&artifact).Error
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// List 按路径前缀列出记录，按路径排序，支持分页。
func (r *gormArtifactRepository) List(ctx context.Context, prefix string, limit int, offset int) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	query := r.db.WithContext(ctx).Order("path ASC")
	if prefix != "" {
		query = query.Where("path LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&artifacts).Error; err != nil {
		return nil, err
	}
	return artifacts, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
