package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunScopedRejectsEmptyTenant(t *testing.T) {
	s := NewPostgresStore(nil)
	err := s.RunScoped(context.Background(), "", func(*Scope) error {
		t.Fatal("fn must not run without a tenant")
		return nil
	})
	if err == nil {
		t.Fatal("expected error for empty tenant id")
	}
}

func TestTenantIsolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)

	issue, err := s.CreateBulletinIssue(ctx, testTenantA, date, "standard")
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}

	// The other tenant cannot see the row, by ID or by listing.
	if _, err := s.GetBulletinIssue(ctx, testTenantB, issue.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
	listed, err := s.ListBulletinIssues(ctx, testTenantB, date.AddDate(0, -1, 0), date.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty list for other tenant, got %d rows", len(listed))
	}

	// The owning tenant sees it.
	got, err := s.GetBulletinIssue(ctx, testTenantA, issue.ID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if got.ID != issue.ID {
		t.Fatalf("expected issue %s, got %s", issue.ID, got.ID)
	}
}

func TestTenantIsolationBlocksCrossTenantUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)

	issue, err := s.CreateBulletinIssue(ctx, testTenantA, date, "standard")
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}

	template := "festive"
	err = s.UpdateBulletinIssue(ctx, testTenantB, issue.ID, UpdateIssueFields{Template: &template})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-tenant update, got %v", err)
	}

	got, err := s.GetBulletinIssue(ctx, testTenantA, issue.ID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if got.Template != "standard" {
		t.Fatalf("template changed across tenants: %s", got.Template)
	}
}

func TestRunScopedRollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := s.RunScoped(ctx, testTenantA, func(sc *Scope) error {
		_, execErr := sc.Exec(ctx, `
			INSERT INTO bulletin_issue (id, tenant_id, issue_date, status, template)
			VALUES ('bi_rollback', $1, '2026-09-06', 'draft', 'standard')
		`, sc.TenantID())
		if execErr != nil {
			t.Fatalf("insert inside scope: %v", execErr)
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error back, got %v", err)
	}

	if _, err := s.GetBulletinIssue(ctx, testTenantA, "bi_rollback"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rollback to discard insert, got %v", err)
	}
}

func TestScopeRejectsWritesForOtherTenant(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// WITH CHECK on the policy rejects rows whose tenant_id differs from the
	// bound scope.
	err := s.RunScoped(ctx, testTenantA, func(sc *Scope) error {
		_, execErr := sc.Exec(ctx, `
			INSERT INTO bulletin_issue (id, tenant_id, issue_date, status, template)
			VALUES ('bi_foreign', $1, '2026-09-06', 'draft', 'standard')
		`, testTenantB)
		return execErr
	})
	if err == nil {
		t.Fatal("expected policy violation for foreign tenant insert")
	}
}
