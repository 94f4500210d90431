package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/visualml/visualml_go_server/internal/pkg/response"
	"github.com/visualml/visualml_go_server/internal/service"
)

type UploadHandler struct {
	uploadService *service.UploadService
}

func NewUploadHandler(uploadService *service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 上传数据集
// POST /api/upload  (multipart, field: file)
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "file is required")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	defer f.Close()

	resp, err := h.uploadService.Upload(fileHeader.Filename, fileHeader.Size, f)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileTooLarge),
			errors.Is(err, service.ErrInvalidFileType):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}
	response.Created(c, resp)
}

// Preview 数据集预览
// GET /api/preview?dataset_uri=...&limit=20
func (h *UploadHandler) Preview(c *gin.Context) {
	uri := c.Query("dataset_uri")
	if uri == "" {
		response.ParamError(c, "dataset_uri is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	resp, err := h.uploadService.Preview(uri, limit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDatasetNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrPreviewUnsupported):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}
	response.Success(c, resp)
}
