package dto

// UploadResponse 数据集上传响应
type UploadResponse struct {
	DatasetURI   string `json:"dataset_uri"`
	OriginalName string `json:"original_name"`
}

// PreviewRequest 数据集预览请求
type PreviewRequest struct {
	DatasetURI string `json:"dataset_uri" binding:"required"`
	Limit      int    `json:"limit"`
}

// PreviewResponse 数据集预览响应
type PreviewResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}
