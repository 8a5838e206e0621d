package service

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/config"
	"github.com/bidwriter/backend/internal/model"
	"github.com/bidwriter/backend/internal/repository"
	"github.com/bidwriter/backend/internal/service/ingest"
)

// 项目状态
const (
	ProjectStatusCreated    = "created"
	ProjectStatusIngested   = "ingested"
	ProjectStatusGenerating = "generating"
	ProjectStatusCompleted  = "completed"
	ProjectStatusError      = "error"
)

// ProjectService 项目管理服务
type ProjectService struct {
	cfg         *config.Config
	projectRepo repository.ProjectRepository
	runRepo     repository.RunRepository
}

func NewProjectService(cfg *config.Config, projectRepo repository.ProjectRepository, runRepo repository.RunRepository) *ProjectService {
	return &ProjectService{
		cfg:         cfg,
		projectRepo: projectRepo,
		runRepo:     runRepo,
	}
}

// Create 创建项目
func (s *ProjectService) Create(name string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("项目名称不能为空")
	}
	project := &model.Project{
		Name:   name,
		Status: ProjectStatusCreated,
	}
	if err := s.projectRepo.Create(project); err != nil {
		return nil, fmt.Errorf("创建项目失败: %w", err)
	}
	klog.Infof("项目已创建 id=%d name=%s", project.ID, project.Name)
	return project, nil
}

// List 列出全部项目
func (s *ProjectService) List() ([]model.Project, error) {
	return s.projectRepo.List()
}

// Get 获取单个项目
func (s *ProjectService) Get(id uint) (*model.Project, error) {
	return s.projectRepo.Get(id)
}

// Delete 删除项目及其运行记录
func (s *ProjectService) Delete(id uint) error {
	runs, err := s.runRepo.GetByProject(id)
	if err != nil {
		return fmt.Errorf("查询项目运行失败: %w", err)
	}
	for _, run := range runs {
		if err := s.runRepo.Delete(run.ID); err != nil {
			return fmt.Errorf("删除运行记录失败: %w", err)
		}
	}
	return s.projectRepo.Delete(id)
}

// IngestFile 解析招标文件并写入项目
func (s *ProjectService) IngestFile(id uint, path string) (*model.Project, error) {
	project, err := s.projectRepo.Get(id)
	if err != nil {
		return nil, err
	}

	text, err := ingest.ExtractFile(path)
	if err != nil {
		project.Status = ProjectStatusError
		project.ErrorMsg = err.Error()
		if saveErr := s.projectRepo.Save(project); saveErr != nil {
			klog.Errorf("保存项目错误状态失败 id=%d: %v", id, saveErr)
		}
		return nil, fmt.Errorf("解析招标文件失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("招标文件解析结果为空")
	}

	project.SourcePath = path
	project.SourceText = text
	project.Status = ProjectStatusIngested
	project.ErrorMsg = ""
	if err := s.projectRepo.Save(project); err != nil {
		return nil, fmt.Errorf("保存项目失败: %w", err)
	}
	klog.Infof("招标文件已导入 projectID=%d path=%s 字数=%d", id, path, len([]rune(text)))
	return project, nil
}

// IngestText 直接写入招标文件文本
func (s *ProjectService) IngestText(id uint, text string) (*model.Project, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("招标文件内容不能为空")
	}
	project, err := s.projectRepo.Get(id)
	if err != nil {
		return nil, err
	}
	project.SourceText = text
	project.Status = ProjectStatusIngested
	project.ErrorMsg = ""
	if err := s.projectRepo.Save(project); err != nil {
		return nil, fmt.Errorf("保存项目失败: %w", err)
	}
	return project, nil
}
