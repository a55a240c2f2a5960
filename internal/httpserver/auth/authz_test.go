package auth_test

import (
	"context"
	"testing"

	"github.com/dh7/mindcache/internal/httpserver/auth"
	pkgauth "github.com/dh7/mindcache/pkg/auth"
)

func TestReadOnlyAuthorizer(t *testing.T) {
	authorizer := &auth.ReadOnlyAuthorizer{}
	ctx := context.Background()
	principal := pkgauth.Principal{}
	resource := pkgauth.Resource{Name: "test", Type: "entry"}

	tests := []struct {
		name    string
		verb    pkgauth.Verb
		wantErr bool
	}{
		{name: "allows get", verb: pkgauth.VerbGet, wantErr: false},
		{name: "rejects create", verb: pkgauth.VerbCreate, wantErr: true},
		{name: "rejects update", verb: pkgauth.VerbUpdate, wantErr: true},
		{name: "rejects delete", verb: pkgauth.VerbDelete, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizer.Check(ctx, principal, tt.verb, resource)
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadOnlyAuthorizer.Check() verb=%s, error = %v, wantErr %v", tt.verb, err, tt.wantErr)
			}
		})
	}
}

func TestNoopAuthorizer(t *testing.T) {
	authorizer := &auth.NoopAuthorizer{}
	ctx := context.Background()
	principal := pkgauth.Principal{}
	resource := pkgauth.Resource{Name: "test", Type: "entry"}

	verbs := []pkgauth.Verb{pkgauth.VerbGet, pkgauth.VerbCreate, pkgauth.VerbUpdate, pkgauth.VerbDelete}
	for _, verb := range verbs {
		t.Run(string(verb), func(t *testing.T) {
			if err := authorizer.Check(ctx, principal, verb, resource); err != nil {
				t.Errorf("NoopAuthorizer.Check() verb=%s, unexpected error: %v", verb, err)
			}
		})
	}
}

type fakeRegistry struct {
	owners            map[string]bool
	read, write, sys  bool
	delegatePermError error
}

func (f *fakeRegistry) IsOwner(ctx context.Context, userID, instanceID string) (bool, error) {
	return f.owners[userID+"/"+instanceID], nil
}

func (f *fakeRegistry) DelegatePermission(ctx context.Context, delegateID, instanceID string) (bool, bool, bool, error) {
	return f.read, f.write, f.sys, f.delegatePermError
}

func TestInstanceAuthorizerOwnerAlwaysAllowed(t *testing.T) {
	reg := &fakeRegistry{owners: map[string]bool{"alice/inst1": true}}
	authorizer := &auth.InstanceAuthorizer{Registry: reg}
	principal := pkgauth.Principal{User: pkgauth.User{ID: "alice"}}
	resource := pkgauth.Resource{Type: "entry", InstanceID: "inst1"}

	if err := authorizer.Check(context.Background(), principal, pkgauth.VerbDelete, resource); err != nil {
		t.Fatalf("expected owner to be allowed, got %v", err)
	}
}

func TestInstanceAuthorizerDelegateRespectsPermissionBits(t *testing.T) {
	reg := &fakeRegistry{read: true, write: false}
	authorizer := &auth.InstanceAuthorizer{Registry: reg}
	principal := pkgauth.Principal{Claims: map[string]any{"delegate_id": "d1"}}
	resource := pkgauth.Resource{Type: "entry", InstanceID: "inst1"}

	if err := authorizer.Check(context.Background(), principal, pkgauth.VerbGet, resource); err != nil {
		t.Fatalf("expected read-permitted delegate to pass VerbGet, got %v", err)
	}
	if err := authorizer.Check(context.Background(), principal, pkgauth.VerbUpdate, resource); err == nil {
		t.Fatalf("expected write-denied delegate to fail VerbUpdate")
	}
}

func TestInstanceAuthorizerRejectsUnscopedResource(t *testing.T) {
	authorizer := &auth.InstanceAuthorizer{Registry: &fakeRegistry{}}
	principal := pkgauth.Principal{User: pkgauth.User{ID: "alice"}}
	resource := pkgauth.Resource{Type: "entry"}

	if err := authorizer.Check(context.Background(), principal, pkgauth.VerbGet, resource); err == nil {
		t.Fatalf("expected error for unscoped resource")
	}
}
