package mlflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrArtifactNotFound 实验存储中不存在该 artifact
var ErrArtifactNotFound = errors.New("artifact not found")

// Client 实验存储客户端。支持两种 tracking URI：
//   - file:<path>        本地 mlruns 目录（<root>/<exp_id>/<run_id>/artifacts/...）
//   - http(s)://<host>   tracking server 的 get-artifact 接口
type Client struct {
	trackingURI string
	httpClient  *http.Client
}

func NewClient(trackingURI string) *Client {
	return &Client{
		trackingURI: strings.TrimSpace(trackingURI),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// DownloadArtifact 将命名 artifact 下载到 destDir，返回本地路径。
// destDir 由调用方创建和释放（所有退出路径都要删除）。
func (c *Client) DownloadArtifact(ctx context.Context, runID, name, destDir string) (string, error) {
	if runID == "" || name == "" {
		return "", ErrArtifactNotFound
	}
	// artifact 名是相对路径，拒绝越界
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrArtifactNotFound
	}

	switch {
	case strings.HasPrefix(c.trackingURI, "file:"):
		return c.downloadFromFileStore(runID, clean, destDir)
	case strings.HasPrefix(c.trackingURI, "http://"), strings.HasPrefix(c.trackingURI, "https://"):
		return c.downloadFromServer(ctx, runID, clean, destDir)
	default:
		return "", fmt.Errorf("unsupported experiment store uri %q", c.trackingURI)
	}
}

// downloadFromFileStore 在 mlruns 目录树中定位 run 并拷贝 artifact
func (c *Client) downloadFromFileStore(runID, name, destDir string) (string, error) {
	root := strings.TrimPrefix(c.trackingURI, "file:")
	root = strings.TrimPrefix(root, "//")

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to read experiment store: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		src := filepath.Join(root, entry.Name(), runID, "artifacts", filepath.FromSlash(name))
		if _, err := os.Stat(src); err != nil {
			continue
		}
		return copyToDir(src, name, destDir)
	}
	return "", ErrArtifactNotFound
}

// downloadFromServer GET {tracking}/get-artifact?path=<name>&run_uuid=<run>
func (c *Client) downloadFromServer(ctx context.Context, runID, name, destDir string) (string, error) {
	u := fmt.Sprintf("%s/get-artifact?path=%s&run_uuid=%s",
		strings.TrimRight(c.trackingURI, "/"),
		url.QueryEscape(name),
		url.QueryEscape(runID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrArtifactNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("experiment store returned status %d", resp.StatusCode)
	}

	dest := filepath.Join(destDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return dest, nil
}

func copyToDir(src, name, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return dest, nil
}
