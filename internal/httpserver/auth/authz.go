package auth

import (
	"context"
	"fmt"

	"github.com/dh7/mindcache/pkg/auth"
)

// NoopAuthorizer allows every request; used for local-mode embeddings
// where the Store is single-process and the network boundary is
// trusted by construction.
type NoopAuthorizer struct{}

func (a *NoopAuthorizer) Check(ctx context.Context, principal auth.Principal, verb auth.Verb, resource auth.Resource) error {
	return nil
}

var _ auth.Authorizer = (*NoopAuthorizer)(nil)

// ReadOnlyAuthorizer allows only get operations and rejects every
// mutating request, for read-only instance mirrors.
type ReadOnlyAuthorizer struct{}

func (a *ReadOnlyAuthorizer) Check(ctx context.Context, principal auth.Principal, verb auth.Verb, resource auth.Resource) error {
	if verb == auth.VerbGet {
		return nil
	}
	return fmt.Errorf("forbidden: read-only mode is enabled, %s operations on %s are not allowed", verb, resource.Type)
}

var _ auth.Authorizer = (*ReadOnlyAuthorizer)(nil)

// InstanceAuthorizer evaluates the owner/delegate/permission matrix of
// spec §4.3.4 steps 1-2: the instance owner may do anything; a delegate
// may only do what its permission bitmask grants.
type InstanceAuthorizer struct {
	Registry InstancePermissionLookup
}

// InstancePermissionLookup is the internal/registry boundary this
// authorizer checks against, kept as an interface so internal/httpserver/auth
// has no direct gorm dependency.
type InstancePermissionLookup interface {
	IsOwner(ctx context.Context, userID, instanceID string) (bool, error)
	DelegatePermission(ctx context.Context, delegateID, instanceID string) (canRead, canWrite, canSystem bool, err error)
}

func (a *InstanceAuthorizer) Check(ctx context.Context, principal auth.Principal, verb auth.Verb, resource auth.Resource) error {
	if resource.InstanceID == "" {
		return fmt.Errorf("forbidden: resource %s has no instance scope", resource.Type)
	}

	if principal.User.ID != "" {
		owner, err := a.Registry.IsOwner(ctx, principal.User.ID, resource.InstanceID)
		if err != nil {
			return err
		}
		if owner {
			return nil
		}
	}

	delegateID, _ := principal.Claims["delegate_id"].(string)
	if delegateID == "" {
		return fmt.Errorf("forbidden: %s is neither the instance owner nor a recognized delegate", principal.User.ID)
	}
	canRead, canWrite, canSystem, err := a.Registry.DelegatePermission(ctx, delegateID, resource.InstanceID)
	if err != nil {
		return err
	}
	switch verb {
	case auth.VerbGet:
		if canRead {
			return nil
		}
	case auth.VerbCreate, auth.VerbUpdate, auth.VerbDelete:
		if resource.Type == "system-entry" {
			if canSystem {
				return nil
			}
		} else if canWrite {
			return nil
		}
	}
	return fmt.Errorf("forbidden: delegate %s lacks permission for %s on %s", delegateID, verb, resource.Type)
}

var _ auth.Authorizer = (*InstanceAuthorizer)(nil)
