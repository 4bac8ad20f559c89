package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blobvault/pkg/checksum"
	"blobvault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBlobNotFound = errors.New("blob record not found")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. Blob 记录 (账本镜像)
// -----------------------------------------------------------------------------

// SaveBlobRecord 写入新的 Blob 记录 (幂等)
// 内容寻址保证同一 BlobID 对应同一内容，所以冲突时什么都不做 (First write wins)。
func (r *Repository) SaveBlobRecord(ctx context.Context, id types.BlobID, size uint64, registeredEpoch types.Epoch, sums checksum.Set) error {
	sumsJSON, err := json.Marshal(map[string]string{
		"sha256": sums.SHA256Hex(),
		"sha512": sums.SHA512Hex(),
		"wide":   sums.WideHashHex(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}

	reg := uint64(registeredEpoch)
	model := BlobModel{
		BlobID:          string(id),
		SizeBytes:       size,
		RegisteredEpoch: &reg,
		Checksums:       datatypes.JSON(sumsJSON),
		Attributes:      datatypes.JSONMap{},
	}

	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blob_id"}}, // 冲突列
			DoNothing: true,                               // 忽略
		}).
		Create(&model).Error

	if err != nil {
		return fmt.Errorf("failed to save blob record: %w", err)
	}
	return nil
}

// GetBlobRecord 读取 Blob 记录
// 因为 BlobID 是主键，查询非常快
func (r *Repository) GetBlobRecord(ctx context.Context, id types.BlobID) (*BlobModel, error) {
	var model BlobModel
	err := r.db.GetConn().WithContext(ctx).
		Where("blob_id = ?", string(id)).
		First(&model).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// SetCertified 记录网络认证 (First writer wins)
// 认证是网络层的单向状态转移：一旦写入就不再变化。
// WHERE certified_epoch IS NULL 保证并发观察者重复上报时只有第一个生效。
func (r *Repository) SetCertified(ctx context.Context, id types.BlobID, epoch types.Epoch) error {
	result := r.db.GetConn().WithContext(ctx).
		Model(&BlobModel{}).
		Where("blob_id = ? AND certified_epoch IS NULL", string(id)).
		Updates(map[string]any{
			"certified_epoch": uint64(epoch),
			"updated_at":      time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 有两种可能：记录不存在，或者已经认证过。
	// 后者是幂等成功；前者需要区分出来报错。
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.GetConn().WithContext(ctx).
			Model(&BlobModel{}).
			Where("blob_id = ?", string(id)).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrBlobNotFound
		}
	}
	return nil
}

// SetProviderCount 更新存储节点数量 (网络观测值，允许覆盖)
func (r *Repository) SetProviderCount(ctx context.Context, id types.BlobID, n uint32) error {
	result := r.db.GetConn().WithContext(ctx).
		Model(&BlobModel{}).
		Where("blob_id = ?", string(id)).
		Update("provider_count", n)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBlobNotFound
	}
	return nil
}

// TotalBlobBytes 统计账本上所有 Blob 的总字节数
// 本地聚合器用它换算存储用量 (写入时的配额检查)。
func (r *Repository) TotalBlobBytes(ctx context.Context) (uint64, error) {
	var total *uint64
	err := r.db.GetConn().WithContext(ctx).
		Model(&BlobModel{}).
		Select("SUM(size_bytes)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		// 空表时 SUM 是 NULL
		return 0, nil
	}
	return *total, nil
}

// -----------------------------------------------------------------------------
// 2. 属性 (Attributes)
// -----------------------------------------------------------------------------

// MergeAttributes 把新属性合并进已有的属性集 (同名键覆盖)
// 整个读-改-写放在事务里，避免并发写属性互相覆盖。
func (r *Repository) MergeAttributes(ctx context.Context, id types.BlobID, attrs map[string]string) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BlobModel
		err := tx.Where("blob_id = ?", string(id)).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBlobNotFound
		}
		if err != nil {
			return err
		}

		merged := model.Attributes
		if merged == nil {
			merged = datatypes.JSONMap{}
		}
		for k, v := range attrs {
			merged[k] = v
		}

		return tx.Model(&BlobModel{}).
			Where("blob_id = ?", string(id)).
			Updates(map[string]any{
				"attributes": merged,
				"updated_at": time.Now(),
			}).Error
	})
}

// GetAttributes 读取属性集合
// JSONMap 的值是 any，这里统一转回 string (非 string 值直接丢弃，属于脏数据)
func (r *Repository) GetAttributes(ctx context.Context, id types.BlobID) (map[string]string, error) {
	model, err := r.GetBlobRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(model.Attributes))
	for k, v := range model.Attributes {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	return attrs, nil
}

// -----------------------------------------------------------------------------
// 3. 验证回执归档 (Audit Trail)
// -----------------------------------------------------------------------------

// SaveReceipt 归档一条验证回执 (幂等)
// digest 是回执的规范化 CBOR 摘要；同一回执重复归档被忽略。
func (r *Repository) SaveReceipt(ctx context.Context, digest string, id types.BlobID, payload []byte) error {
	model := ReceiptModel{
		Digest:  digest,
		BlobID:  string(id),
		Payload: datatypes.JSON(payload),
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest"}},
			DoNothing: true,
		}).
		Create(&model).Error

	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

// FindReceiptsByBlob 按 Blob 查询历史回执 (事后排查用)
func (r *Repository) FindReceiptsByBlob(ctx context.Context, id types.BlobID, limit int) ([]ReceiptModel, error) {
	var receipts []ReceiptModel
	err := r.db.GetConn().WithContext(ctx).
		Where("blob_id = ?", string(id)).
		Order("created_at DESC").
		Limit(limit).
		Find(&receipts).Error
	return receipts, err
}
