// Package registry implements the Global Registry (L4'): the relational
// store of users, instances, delegates, and permission grants that sits
// outside any single instance actor (spec §4.3.6).
package registry

import (
	"github.com/dh7/mindcache/pkg/database"
	"github.com/dh7/mindcache/pkg/wire"
)

// User is an identity-provider subject plus the profile snapshot taken
// at last sign-in.
type User struct {
	ID          string `gorm:"primaryKey"`
	Email       string `gorm:"index"`
	DisplayName string
	CreatedAt   database.FlexibleTime
	UpdatedAt   database.FlexibleTime
}

// Instance is a single collaborative store hosted by one authority
// actor. ParentInstanceID records clone provenance only; no ongoing
// link is maintained after a clone (spec §4.3.6).
type Instance struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	OwnerID          string `gorm:"index"`
	ParentInstanceID string `gorm:"index"`
	Readonly         bool
	Revision         uint64
	CreatedAt        database.FlexibleTime
	UpdatedAt        database.FlexibleTime
}

// Delegate is a scoped credential an instance owner issues to a third
// party (e.g. another agent) instead of sharing their own identity.
// Capabilities are the Permission bitmask of pkg/wire.
type Delegate struct {
	ID           string `gorm:"primaryKey"`
	InstanceID   string `gorm:"index"`
	OwnerID      string `gorm:"index"`
	SecretHash   string
	Capabilities wire.Permission
	ExpiresAt    database.NullableFlexibleTime
	CreatedAt    database.FlexibleTime
}

// Permission grants a specific actor (user or delegate) a capability
// bitmask over an instance, independent of ownership (spec §4.3.6:
// "permissions (instance × actor × permission)").
type Permission struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	InstanceID  string `gorm:"index:idx_instance_actor,unique"`
	ActorID     string `gorm:"index:idx_instance_actor,unique"`
	Bits        wire.Permission
	GrantedByID string
	CreatedAt   database.FlexibleTime
}

// InstanceSnapshot is the durable copy of an instance actor's canonical
// entry map. internal/authority writes the whole snapshot (pkg/store's
// ToJSON shape) at the end of every accepted turn and rehydrates it with
// FromJSON when the actor starts (spec §4.4: "an in-memory authoritative
// entry map per instance actor ... rehydrated from the registry at actor
// start").
type InstanceSnapshot struct {
	InstanceID   string `gorm:"primaryKey"`
	SnapshotJSON string
	Revision     uint64
	UpdatedAt    database.FlexibleTime
}
