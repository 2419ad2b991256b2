package tools

import (
	"strings"
	"testing"

	"github.com/codemesh/codemesh/internal/errs"
)

func TestWildcardLookupChainPrefersMostSpecificRule(t *testing.T) {
	e := NewEngine(LevelRestricted)
	e.AddPermission(Permission{Resource: "*", Operation: "*", Level: LevelAdmin})
	e.AddPermission(Permission{Resource: "file", Operation: "*", Level: LevelStandard})
	e.AddPermission(Permission{Resource: "file", Operation: "read", Level: LevelRead})

	ctx := Context{Resource: "file", Operation: "read", CurrentLevel: LevelRead}
	if err := e.Check(ctx); err != nil {
		t.Fatalf("expected read at LevelRead to pass: %v", err)
	}

	ctx.Operation = "delete"
	if err := e.Check(ctx); err == nil {
		t.Fatalf("expected delete at LevelRead to fail against file/* rule requiring Standard")
	}
}

func TestUserOverrideTakesPrecedenceOverCurrentLevel(t *testing.T) {
	e := NewEngine(LevelRestricted)
	e.AddPermission(Permission{Resource: "bash", Operation: "execute", Level: LevelElevated})
	e.SetUserLevel("root-user", "bash", LevelAdmin)

	ctx := Context{UserID: "root-user", Resource: "bash", Operation: "execute", CurrentLevel: LevelNone}
	if err := e.Check(ctx); err != nil {
		t.Fatalf("expected user override to grant access: %v", err)
	}
}

func TestPathConstraintRejectsDeniedPattern(t *testing.T) {
	e := NewEngine(LevelRestricted)
	e.AddPermission(Permission{
		Resource: "file", Operation: "write", Level: LevelNone,
		Constraints: []Constraint{PathConstraint{Denied: []string{"/etc/**"}}},
	})

	ctx := Context{Resource: "file", Operation: "write", WorkingDir: "/tmp", CurrentLevel: LevelAdmin}.
		WithParam("path", "/etc/passwd")
	err := e.Check(ctx)
	if err == nil || !errs.Is(err, errs.PermissionDenied) {
		t.Fatalf("expected permission_denied for denied path, got %v", err)
	}
}

func TestSizeConstraintRejectsOversizedPayload(t *testing.T) {
	e := NewEngine(LevelRestricted)
	e.AddPermission(Permission{
		Resource: "file", Operation: "write", Level: LevelNone,
		Constraints: []Constraint{SizeConstraint{MaxBytes: 1024}},
	})

	ctx := Context{Resource: "file", Operation: "write", CurrentLevel: LevelAdmin}.WithParam("size", int64(2048))
	if err := e.Check(ctx); err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("expected size constraint violation, got %v", err)
	}
}

func TestNetworkConstraintDeniedHostWinsOverAllowedHost(t *testing.T) {
	e := NewEngine(LevelRestricted)
	e.AddPermission(Permission{
		Resource: "web", Operation: "fetch", Level: LevelNone,
		Constraints: []Constraint{NetworkConstraint{
			Allowed:      true,
			AllowedHosts: []string{"example.com"},
			DeniedHosts:  []string{"localhost"},
		}},
	})

	ctx := Context{Resource: "web", Operation: "fetch", CurrentLevel: LevelAdmin}.WithParam("host", "localhost")
	if err := e.Check(ctx); err == nil || !errs.Is(err, errs.PermissionDenied) {
		t.Fatalf("expected denied host to be rejected, got %v", err)
	}
}

func TestDefaultEngineAllowsFileReadAtReadLevel(t *testing.T) {
	e := DefaultEngine()
	ctx := Context{Resource: "file", Operation: "read", CurrentLevel: LevelRead}
	if err := e.Check(ctx); err != nil {
		t.Fatalf("expected default engine to allow file read at Read level: %v", err)
	}
}

func TestDefaultEngineRejectsUnknownResourceBelowRestricted(t *testing.T) {
	e := DefaultEngine()
	ctx := Context{Resource: "exotic", Operation: "do", CurrentLevel: LevelRead}
	if err := e.Check(ctx); err == nil {
		t.Fatalf("expected unregistered resource to fall back to the Restricted default and reject a Read caller")
	}
}
