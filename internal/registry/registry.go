package registry

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dh7/mindcache/pkg/database"
	"github.com/dh7/mindcache/pkg/mcerr"
	"github.com/dh7/mindcache/pkg/wire"
)

// Store is the registry's operation surface: control-plane CRUD plus the
// lookups internal/authority and internal/httpserver/auth need at
// connection time (spec §4.3.6).
type Store struct {
	db *gorm.DB
}

// NewStore wraps an initialized Manager's connection.
func NewStore(m *Manager) *Store { return &Store{db: m.db} }

// CreateInstance registers a brand-new instance owned by ownerID.
func (s *Store) CreateInstance(ctx context.Context, id, name, ownerID string) (*Instance, error) {
	inst := &Instance{ID: id, Name: name, OwnerID: ownerID}
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, mcerr.Wrap(mcerr.Conflict, "creating instance", err)
	}
	return inst, nil
}

// CloneInstance creates a new instance row that records source as its
// ParentInstanceID for provenance only (spec §4.3.6: "no link is
// maintained after clone"). In the same transaction it copies the
// source's durable snapshot, if it has one, to the new instance; a
// source with no snapshot yields an empty clone.
func (s *Store) CloneInstance(ctx context.Context, newID, name, ownerID, sourceInstanceID string) (*Instance, error) {
	var source Instance
	if err := s.db.WithContext(ctx).First(&source, "id = ?", sourceInstanceID).Error; err != nil {
		return nil, mcerr.Wrap(mcerr.NotFound, "source instance not found", err)
	}
	clone := &Instance{ID: newID, Name: name, OwnerID: ownerID, ParentInstanceID: sourceInstanceID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(clone).Error; err != nil {
			return err
		}
		var snapshot InstanceSnapshot
		err := tx.First(&snapshot, "instance_id = ?", sourceInstanceID).Error
		switch {
		case err == nil:
			snapshot.InstanceID = newID
			return tx.Create(&snapshot).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil // source has never taken a durable write yet; clone starts empty.
		default:
			return err
		}
	})
	if err != nil {
		return nil, mcerr.Wrap(mcerr.Conflict, "creating instance clone", err)
	}
	return clone, nil
}

// SaveSnapshot durably persists an instance actor's canonical entry map
// (spec §4.3.4 step 4, "persist the updated entry durably before
// acknowledging").
func (s *Store) SaveSnapshot(ctx context.Context, instanceID, snapshotJSON string, revision uint64) error {
	snapshot := InstanceSnapshot{InstanceID: instanceID, SnapshotJSON: snapshotJSON, Revision: revision}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot_json", "revision", "updated_at"}),
		}).
		Create(&snapshot).Error
	if err != nil {
		return mcerr.Wrap(mcerr.Fatal, "persisting instance snapshot", err)
	}
	return nil
}

// LoadSnapshot rehydrates an instance actor's canonical entry map at
// actor start. ok is false when the instance has never taken a write.
func (s *Store) LoadSnapshot(ctx context.Context, instanceID string) (snapshotJSON string, revision uint64, ok bool, err error) {
	var snapshot InstanceSnapshot
	dbErr := s.db.WithContext(ctx).First(&snapshot, "instance_id = ?", instanceID).Error
	if dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return "", 0, false, nil
		}
		return "", 0, false, mcerr.Wrap(mcerr.Fatal, "loading instance snapshot", dbErr)
	}
	return snapshot.SnapshotJSON, snapshot.Revision, true, nil
}

// GetInstance looks up a single instance by id.
func (s *Store) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := s.db.WithContext(ctx).First(&inst, "id = ?", id).Error; err != nil {
		return nil, mcerr.Wrap(mcerr.NotFound, "instance not found", err)
	}
	return &inst, nil
}

// ListInstances returns every instance owned by ownerID.
func (s *Store) ListInstances(ctx context.Context, ownerID string) ([]Instance, error) {
	var out []Instance
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&out).Error; err != nil {
		return nil, mcerr.Wrap(mcerr.Fatal, "listing instances", err)
	}
	return out, nil
}

// DeleteInstance removes an instance and its delegates/permissions.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", id).Delete(&Delegate{}).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id = ?", id).Delete(&Permission{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Instance{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return mcerr.New(mcerr.NotFound, "instance not found")
		}
		return nil
	})
}

// IsOwner reports whether userID owns instanceID. Implements
// internal/httpserver/auth.InstancePermissionLookup.
func (s *Store) IsOwner(ctx context.Context, userID, instanceID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Instance{}).
		Where("id = ? AND owner_id = ?", instanceID, userID).
		Count(&count).Error
	if err != nil {
		return false, mcerr.Wrap(mcerr.Fatal, "checking instance ownership", err)
	}
	return count > 0, nil
}

// CreateDelegate issues a new delegate credential, returning the
// plaintext secret exactly once; only its bcrypt hash is persisted.
func (s *Store) CreateDelegate(ctx context.Context, id, instanceID, ownerID string, capabilities wire.Permission, ttl time.Duration) (secret string, err error) {
	secret, err = generateSecret()
	if err != nil {
		return "", mcerr.Wrap(mcerr.Fatal, "generating delegate secret", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", mcerr.Wrap(mcerr.Fatal, "hashing delegate secret", err)
	}

	delegate := &Delegate{ID: id, InstanceID: instanceID, OwnerID: ownerID, SecretHash: string(hash), Capabilities: capabilities}
	if ttl > 0 {
		expiry := time.Now().Add(ttl)
		delegate.ExpiresAt = database.FromTime(&expiry)
	}
	if err := s.db.WithContext(ctx).Create(delegate).Error; err != nil {
		return "", mcerr.Wrap(mcerr.Conflict, "creating delegate", err)
	}
	return secret, nil
}

// ListDelegates returns every delegate issued for instanceID.
func (s *Store) ListDelegates(ctx context.Context, instanceID string) ([]Delegate, error) {
	var out []Delegate
	if err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Find(&out).Error; err != nil {
		return nil, mcerr.Wrap(mcerr.Fatal, "listing delegates", err)
	}
	return out, nil
}

// DeleteDelegate revokes a delegate credential.
func (s *Store) DeleteDelegate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Delegate{}, "id = ?", id)
	if res.Error != nil {
		return mcerr.Wrap(mcerr.Fatal, "deleting delegate", res.Error)
	}
	if res.RowsAffected == 0 {
		return mcerr.New(mcerr.NotFound, "delegate not found")
	}
	return nil
}

// VerifyDelegateSecret checks a plaintext secret against the stored hash
// for a not-yet-expired delegate of instanceID. Implements
// internal/httpserver/auth.DelegateSecretVerifier.
func (s *Store) VerifyDelegateSecret(ctx context.Context, instanceID, secret string) (string, bool, error) {
	var candidates []Delegate
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Find(&candidates).Error
	if err != nil {
		return "", false, mcerr.Wrap(mcerr.Fatal, "loading delegates", err)
	}
	now := time.Now()
	for _, d := range candidates {
		if d.ExpiresAt.Valid && d.ExpiresAt.Time.Time.Before(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(d.SecretHash), []byte(secret)) == nil {
			return d.ID, true, nil
		}
	}
	return "", false, nil
}

// DelegatePermission reports an actor's effective capability bits for
// instanceID, combining a matching delegate's inherent capabilities (if
// actorID names a delegate of this instance) with any explicit grant row.
// Implements internal/httpserver/auth.InstancePermissionLookup.
func (s *Store) DelegatePermission(ctx context.Context, actorID, instanceID string) (canRead, canWrite, canSystem bool, err error) {
	var bits wire.Permission

	var delegate Delegate
	dbErr := s.db.WithContext(ctx).First(&delegate, "id = ? AND instance_id = ?", actorID, instanceID).Error
	switch {
	case dbErr == nil:
		bits |= delegate.Capabilities
	case errors.Is(dbErr, gorm.ErrRecordNotFound):
		// actorID may be a plain user id holding only an explicit grant.
	default:
		return false, false, false, mcerr.Wrap(mcerr.Fatal, "loading delegate", dbErr)
	}

	var grant Permission
	if err := s.db.WithContext(ctx).First(&grant, "instance_id = ? AND actor_id = ?", instanceID, actorID).Error; err == nil {
		bits |= grant.Bits
	}
	return bits.Has(wire.PermRead), bits.Has(wire.PermWrite), bits.Has(wire.PermSystem), nil
}

// GrantPermission records or updates an explicit permission grant for
// actorID (a user or delegate id) on instanceID.
func (s *Store) GrantPermission(ctx context.Context, instanceID, actorID string, bits wire.Permission, grantedBy string) error {
	var existing Permission
	err := s.db.WithContext(ctx).First(&existing, "instance_id = ? AND actor_id = ?", instanceID, actorID).Error
	if err == nil {
		existing.Bits = bits
		existing.GrantedByID = grantedBy
		return s.db.WithContext(ctx).Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return mcerr.Wrap(mcerr.Fatal, "checking existing permission grant", err)
	}
	grant := Permission{InstanceID: instanceID, ActorID: actorID, Bits: bits, GrantedByID: grantedBy}
	if err := s.db.WithContext(ctx).Create(&grant).Error; err != nil {
		return mcerr.Wrap(mcerr.Fatal, "creating permission grant", err)
	}
	return nil
}

// RevokePermission removes actorID's explicit grant on instanceID.
func (s *Store) RevokePermission(ctx context.Context, instanceID, actorID string) error {
	res := s.db.WithContext(ctx).Where("instance_id = ? AND actor_id = ?", instanceID, actorID).Delete(&Permission{})
	if res.Error != nil {
		return mcerr.Wrap(mcerr.Fatal, "revoking permission", res.Error)
	}
	return nil
}
