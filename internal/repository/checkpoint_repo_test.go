package repository

import (
	"errors"
	"testing"

	"github.com/bidwriter/backend/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newCheckpointTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db error: %v", err)
	}
	if err := db.AutoMigrate(&model.RunCheckpoint{}); err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	return db
}

func TestCheckpointRepositoryLatestCompleted(t *testing.T) {
	db := newCheckpointTestDB(t)
	repo := NewCheckpointRepository(db)

	// 无检查点时应返回 ErrNotFound
	if _, err := repo.LatestCompleted("run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cp1 := &model.RunCheckpoint{RunID: "run-1", StepName: "parse_document_start", StepOrder: 1, StateData: "{}"}
	if err := repo.Create(cp1); err != nil {
		t.Fatalf("create cp1 error: %v", err)
	}
	if cp1.IsCompleted {
		t.Fatalf("new checkpoint must not be completed")
	}

	// 只有未完成检查点时仍然找不到
	if _, err := repo.LatestCompleted("run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with incomplete checkpoint, got %v", err)
	}

	if err := repo.Complete(cp1.ID); err != nil {
		t.Fatalf("complete cp1 error: %v", err)
	}

	cp2 := &model.RunCheckpoint{RunID: "run-1", StepName: "parse_document_complete", StepOrder: 2, StateData: "{}"}
	if err := repo.Create(cp2); err != nil {
		t.Fatalf("create cp2 error: %v", err)
	}
	if err := repo.Complete(cp2.ID); err != nil {
		t.Fatalf("complete cp2 error: %v", err)
	}

	// 第三个检查点创建后崩溃（未完成），不应被选中
	cp3 := &model.RunCheckpoint{RunID: "run-1", StepName: "generate_outline_start", StepOrder: 3, StateData: "{}"}
	if err := repo.Create(cp3); err != nil {
		t.Fatalf("create cp3 error: %v", err)
	}

	latest, err := repo.LatestCompleted("run-1")
	if err != nil {
		t.Fatalf("LatestCompleted error: %v", err)
	}
	if latest.StepOrder != 2 || latest.StepName != "parse_document_complete" {
		t.Fatalf("unexpected latest checkpoint: order=%d name=%s", latest.StepOrder, latest.StepName)
	}

	// 不同运行互不干扰
	if _, err := repo.LatestCompleted("run-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other run, got %v", err)
	}
}

func TestCheckpointRepositoryListOrdering(t *testing.T) {
	db := newCheckpointTestDB(t)
	repo := NewCheckpointRepository(db)

	steps := []string{"parse_document_start", "parse_document_complete", "generate_outline_start"}
	for i, name := range steps {
		cp := &model.RunCheckpoint{RunID: "run-9", StepName: name, StepOrder: i + 1, StateData: "{}"}
		if err := repo.Create(cp); err != nil {
			t.Fatalf("create checkpoint %d error: %v", i+1, err)
		}
	}

	count, err := repo.CountByRun("run-9")
	if err != nil {
		t.Fatalf("CountByRun error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", count)
	}

	list, err := repo.ListByRun("run-9")
	if err != nil {
		t.Fatalf("ListByRun error: %v", err)
	}
	for i, cp := range list {
		if cp.StepOrder != i+1 {
			t.Fatalf("expected step_order %d at position %d, got %d", i+1, i, cp.StepOrder)
		}
		if cp.StepName != steps[i] {
			t.Fatalf("unexpected step name at %d: %s", i, cp.StepName)
		}
	}
}
