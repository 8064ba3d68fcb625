package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestClaimWinsWhenTargetIsClaimable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE campaign_targets").
		WithArgs("target-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &TargetRepository{DB: db}
	claimed, err := repo.Claim(context.Background(), "target-1")
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if !claimed {
		t.Error("expected claim to win")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimLosesWhenAlreadyClaimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Another instance moved the target out of pending/retrying first.
	mock.ExpectExec("UPDATE campaign_targets").
		WithArgs("target-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := &TargetRepository{DB: db}
	claimed, err := repo.Claim(context.Background(), "target-1")
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if claimed {
		t.Error("expected claim to lose")
	}
}

func TestGetByIDParsesMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "lead_id", "status", "attempt_count",
		"next_attempt_at", "last_attempt_at", "metadata", "created_at", "updated_at",
	}).AddRow("target-1", "campaign-1", "lead-1", "processing", 1,
		nil, nil, []byte(`{"external_id": "msg-9"}`), now, now)

	mock.ExpectQuery("SELECT (.+) FROM campaign_targets WHERE id=").
		WithArgs("target-1").
		WillReturnRows(rows)

	repo := &TargetRepository{DB: db}
	target, err := repo.GetByID(context.Background(), "target-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if target == nil {
		t.Fatal("expected target")
	}
	if target.Metadata["external_id"] != "msg-9" {
		t.Errorf("metadata: %v", target.Metadata)
	}
}

func TestGetByIDMissingTargetIsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM campaign_targets WHERE id=").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "lead_id", "status", "attempt_count",
			"next_attempt_at", "last_attempt_at", "metadata", "created_at", "updated_at",
		}))

	repo := &TargetRepository{DB: db}
	target, err := repo.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if target != nil {
		t.Errorf("expected nil target, got %+v", target)
	}
}

func TestStatsZeroesMissingStatuses(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("completed", 7).
		AddRow("failed", 2)

	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("campaign-1").
		WillReturnRows(rows)

	repo := &TargetRepository{DB: db}
	stats, err := repo.Stats(context.Background(), "campaign-1")
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}

	if stats["completed"] != 7 || stats["failed"] != 2 {
		t.Errorf("stats: %v", stats)
	}
	if stats["pending"] != 0 || stats["processing"] != 0 || stats["retrying"] != 0 {
		t.Errorf("missing statuses should be zeroed: %v", stats)
	}
}
