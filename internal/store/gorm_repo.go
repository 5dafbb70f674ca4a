package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// objectModel mirrors the stored_objects table of the Postgres schema.
type objectModel struct {
	Handle           string `gorm:"primaryKey;size:36"`
	OwnerID          int64  `gorm:"not null;index:idx_objects_owner_created,priority:1;uniqueIndex:idx_objects_owner_storage,priority:1"`
	DisplayName      string `gorm:"size:255;not null"`
	StorageName      string `gorm:"size:255;not null;uniqueIndex:idx_objects_owner_storage,priority:2"`
	SizeBytes        int64  `gorm:"not null"`
	CreatedAt        int64  `gorm:"not null;autoCreateTime:false;index:idx_objects_owner_created,priority:2"`
	LastDownloadedAt *int64
	Comment          *string `gorm:"size:500"`
}

func (objectModel) TableName() string { return "stored_objects" }

type accountModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Username  string `gorm:"size:150;not null;uniqueIndex"`
	Email     string `gorm:"size:254;not null"`
	FullName  string `gorm:"size:255;not null"`
	IsAdmin   bool   `gorm:"not null"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false"`
}

func (accountModel) TableName() string { return "accounts" }

func toObjectModel(o *Object) objectModel {
	return objectModel{
		Handle:           o.Handle,
		OwnerID:          o.OwnerID,
		DisplayName:      o.DisplayName,
		StorageName:      o.StorageName,
		SizeBytes:        o.SizeBytes,
		CreatedAt:        o.CreatedAt,
		LastDownloadedAt: o.LastDownloadedAt,
		Comment:          o.Comment,
	}
}

func (m objectModel) toObject() *Object {
	return &Object{
		Handle:           m.Handle,
		OwnerID:          m.OwnerID,
		DisplayName:      m.DisplayName,
		StorageName:      m.StorageName,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
		LastDownloadedAt: m.LastDownloadedAt,
		Comment:          m.Comment,
	}
}

func (m accountModel) toAccount() *Account {
	return &Account{
		ID:        m.ID,
		Username:  m.Username,
		Email:     m.Email,
		FullName:  m.FullName,
		IsAdmin:   m.IsAdmin,
		CreatedAt: m.CreatedAt,
	}
}

// OpenSQLite opens (or creates) the SQLite database at path and migrates
// the schema. SQLite allows a single writer, so the pool is capped at one
// connection.
func OpenSQLite(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := path + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(log, defaultSlowQuery),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&accountModel{}, &objectModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// GormRepo implements Repo on top of gorm.
type GormRepo struct {
	db *gorm.DB
}

// NewGormRepo creates a GormRepo.
func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

func (r *GormRepo) Create(ctx context.Context, obj *Object) error {
	m := toObjectModel(obj)
	err := r.db.WithContext(ctx).Create(&m).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var n int64
		cerr := r.db.WithContext(ctx).Model(&objectModel{}).Where("handle = ?", obj.Handle).Count(&n).Error
		if cerr == nil && n > 0 {
			return ErrDuplicateHandle
		}
		return ErrConflict
	}
	return fmt.Errorf("insert: %w", err)
}

func (r *GormRepo) FindByHandle(ctx context.Context, handle string) (*Object, error) {
	return r.find(r.db.WithContext(ctx), handle)
}

func (r *GormRepo) find(db *gorm.DB, handle string) (*Object, error) {
	var m objectModel
	if err := db.Where("handle = ?", handle).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	return m.toObject(), nil
}

func (r *GormRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*Object, error) {
	var ms []objectModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, handle DESC").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	items := make([]*Object, 0, len(ms))
	for _, m := range ms {
		items = append(items, m.toObject())
	}
	return items, nil
}

func (r *GormRepo) UpdateDisplayFields(ctx context.Context, handle string, upd DisplayUpdate) (*Object, error) {
	var out *Object
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changes := map[string]any{}
		if upd.DisplayName != nil {
			changes["display_name"] = *upd.DisplayName
		}
		if upd.Comment != nil {
			if *upd.Comment == "" {
				changes["comment"] = nil
			} else {
				changes["comment"] = *upd.Comment
			}
		}
		if len(changes) > 0 {
			res := tx.Model(&objectModel{}).Where("handle = ?", handle).Updates(changes)
			if res.Error != nil {
				return fmt.Errorf("update: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		obj, err := r.find(tx, handle)
		if err != nil {
			return err
		}
		out = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepo) RecordDownload(ctx context.Context, handle string, at int64) error {
	res := r.db.WithContext(ctx).Model(&objectModel{}).
		Where("handle = ?", handle).
		Update("last_downloaded_at", at)
	if res.Error != nil {
		return fmt.Errorf("record download: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepo) Delete(ctx context.Context, handle string) error {
	res := r.db.WithContext(ctx).Where("handle = ?", handle).Delete(&objectModel{})
	if res.Error != nil {
		return fmt.Errorf("delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepo) AggregateForOwner(ctx context.Context, ownerID int64) (Usage, error) {
	var u Usage
	row := r.db.WithContext(ctx).Model(&objectModel{}).
		Select("COUNT(*), COALESCE(SUM(size_bytes), 0)").
		Where("owner_id = ?", ownerID).
		Row()
	if err := row.Scan(&u.FileCount, &u.TotalBytes); err != nil {
		return Usage{}, fmt.Errorf("aggregate: %w", err)
	}
	return u, nil
}

// GormAccountRepo implements AccountRepo on top of gorm.
type GormAccountRepo struct {
	db *gorm.DB
}

// NewGormAccountRepo creates a GormAccountRepo.
func NewGormAccountRepo(db *gorm.DB) *GormAccountRepo {
	return &GormAccountRepo{db: db}
}

func (r *GormAccountRepo) CreateAccount(ctx context.Context, a *Account) error {
	m := accountModel{
		Username:  a.Username,
		Email:     a.Email,
		FullName:  a.FullName,
		IsAdmin:   a.IsAdmin,
		CreatedAt: a.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	a.ID = m.ID
	return nil
}

func (r *GormAccountRepo) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *GormAccountRepo) get(db *gorm.DB, id int64) (*Account, error) {
	var m accountModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return m.toAccount(), nil
}

func (r *GormAccountRepo) ListAccounts(ctx context.Context) ([]*Account, error) {
	var ms []accountModel
	if err := r.db.WithContext(ctx).Order("id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]*Account, 0, len(ms))
	for _, m := range ms {
		accounts = append(accounts, m.toAccount())
	}
	return accounts, nil
}

func (r *GormAccountRepo) ToggleAdmin(ctx context.Context, id int64) (*Account, error) {
	var out *Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountModel{}).Where("id = ?", id).Update("is_admin", gorm.Expr("NOT is_admin"))
		if res.Error != nil {
			return fmt.Errorf("toggle admin: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		a, err := r.get(tx, id)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormAccountRepo) DeleteAccount(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", id).Delete(&objectModel{}).Error; err != nil {
			return fmt.Errorf("delete account objects: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&accountModel{})
		if res.Error != nil {
			return fmt.Errorf("delete account: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

var (
	_ Repo        = (*GormRepo)(nil)
	_ AccountRepo = (*GormAccountRepo)(nil)
)
