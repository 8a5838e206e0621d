package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bidwriter/backend/internal/service"
	"github.com/bidwriter/backend/internal/service/orchestrator"
)

type RunHandler struct {
	service *service.RunService
}

func NewRunHandler(service *service.RunService) *RunHandler {
	return &RunHandler{
		service: service,
	}
}

// Start 为项目发起一次生成运行
func (h *RunHandler) Start(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	run, err := h.service.Start(uint(projectID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetByProject 查询项目的全部运行
func (h *RunHandler) GetByProject(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	runs, err := h.service.GetByProject(uint(projectID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// Get 查询运行详情
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.service.Get(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// Checkpoints 查询运行的检查点轨迹
func (h *RunHandler) Checkpoints(c *gin.Context) {
	checkpoints, err := h.service.Checkpoints(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, checkpoints)
}

// Resume 从检查点恢复运行
func (h *RunHandler) Resume(c *gin.Context) {
	run, err := h.service.Resume(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// Cancel 取消运行
func (h *RunHandler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Param("run_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "run canceled"})
}

// Download 下载生成的方案文档
func (h *RunHandler) Download(c *gin.Context) {
	run, err := h.service.Get(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if run.OutputPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "run has no output yet"})
		return
	}
	c.FileAttachment(run.OutputPath, "proposal.docx")
}

// QueueStatus 查询调度器状态
func (h *RunHandler) QueueStatus(c *gin.Context) {
	o := orchestrator.GetGlobalOrchestrator()
	if o == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator not initialized"})
		return
	}
	c.JSON(http.StatusOK, o.GetQueueStatus())
}
