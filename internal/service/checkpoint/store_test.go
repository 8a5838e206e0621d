package checkpoint

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/bidwriter/backend/internal/model"
	"github.com/bidwriter/backend/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.RunCheckpoint{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return NewStore(repository.NewCheckpointRepository(db))
}

func TestSaveAssignsIncreasingOrder(t *testing.T) {
	store := newTestStore(t)

	steps := []string{"parse_document_start", "parse_document_complete", "generate_outline_start"}
	for _, step := range steps {
		if err := store.Save("run-1", step, `{"run_id":"run-1"}`); err != nil {
			t.Fatalf("保存检查点失败: %v", err)
		}
	}

	list, err := store.List("run-1")
	if err != nil {
		t.Fatalf("列出检查点失败: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("期望3个检查点，实际 %d", len(list))
	}
	for i, cp := range list {
		if cp.StepOrder != i+1 {
			t.Fatalf("第%d个检查点 step_order 期望 %d，实际 %d", i, i+1, cp.StepOrder)
		}
		if cp.StepName != steps[i] {
			t.Fatalf("第%d个检查点名称期望 %s，实际 %s", i, steps[i], cp.StepName)
		}
		if !cp.IsCompleted {
			t.Fatalf("Save 之后检查点应为完成状态: %+v", cp)
		}
	}
}

func TestLatestCompletedEmptyRun(t *testing.T) {
	store := newTestStore(t)

	_, _, found, err := store.LatestCompleted("run-none")
	if err != nil {
		t.Fatalf("空运行不应报错: %v", err)
	}
	if found {
		t.Fatalf("空运行不应有检查点")
	}
}

func TestLatestCompletedReturnsNewest(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("run-2", "parse_document_complete", `{"phase":"parse_document"}`); err != nil {
		t.Fatalf("保存检查点失败: %v", err)
	}
	if err := store.Save("run-2", "generate_outline_complete", `{"phase":"generate_outline"}`); err != nil {
		t.Fatalf("保存检查点失败: %v", err)
	}

	step, snapshot, found, err := store.LatestCompleted("run-2")
	if err != nil {
		t.Fatalf("查询最新检查点失败: %v", err)
	}
	if !found {
		t.Fatalf("应找到检查点")
	}
	if step != "generate_outline_complete" {
		t.Fatalf("应返回最新检查点，实际 %s", step)
	}
	if snapshot != `{"phase":"generate_outline"}` {
		t.Fatalf("快照不符，实际 %s", snapshot)
	}
}
