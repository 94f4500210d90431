package oss

import (
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/visualml/visualml_go_server/config"
)

// Client 数据集对象存储。dataset_uri 形如 oss://<bucket>/<object-key>。
type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
	}, nil
}

// UploadDataset 上传数据集文件，返回 oss:// URI
func (c *Client) UploadDataset(objectKey string, r io.Reader, contentType string) (string, error) {
	err := c.bucket.PutObject(objectKey, r, oss.ContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload dataset: %w", err)
	}
	return c.URI(objectKey), nil
}

// DownloadTo 下载对象到本地路径（worker 训练前取数据集）
func (c *Client) DownloadTo(objectKey, localPath string) error {
	if err := c.bucket.GetObjectToFile(objectKey, localPath); err != nil {
		return fmt.Errorf("failed to download object %s: %w", objectKey, err)
	}
	return nil
}

// Delete 删除对象
func (c *Client) Delete(objectKey string) error {
	if err := c.bucket.DeleteObject(objectKey); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// URI 由 object key 构造 oss:// URI
func (c *Client) URI(objectKey string) string {
	return fmt.Sprintf("oss://%s/%s", c.bucketName, objectKey)
}

// ObjectKey 从 oss:// URI 中取 object key；非本 bucket 的 URI 返回错误
func (c *Client) ObjectKey(uri string) (string, error) {
	prefix := fmt.Sprintf("oss://%s/", c.bucketName)
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("uri %q is not in bucket %s", uri, c.bucketName)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

// IsOSSURI 判断是否为 oss:// 协议
func IsOSSURI(uri string) bool {
	return strings.HasPrefix(uri, "oss://")
}
