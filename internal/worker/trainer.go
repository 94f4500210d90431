package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/model"
)

// TrainerEvent 训练器在 stdout 上输出的 JSON 行事件。
//
//	{"event":"progress","progress":0.42,"message":"epoch 3/10"}
//	{"event":"mlflow","run_id":"<experiment run id>"}
//	{"event":"metrics","metrics":{"accuracy":0.91}}
//	{"event":"result","status":"succeeded","metrics":{...},"artifacts":{...}}
//
// result 事件必须是最后一行；status 只能是 succeeded 或 failed。
type TrainerEvent struct {
	Event     string                 `json:"event"`
	Progress  float64                `json:"progress,omitempty"`
	Message   string                 `json:"message,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
	Artifacts map[string]interface{} `json:"artifacts,omitempty"`
}

// trainerSpec 传给训练器的作业描述，写入 scratch 目录的 job.json
type trainerSpec struct {
	RunID       string                 `json:"run_id"`
	TaskType    string                 `json:"task_type"`
	Target      string                 `json:"target"`
	Split       map[string]interface{} `json:"split"`
	ModelFamily string                 `json:"model_family"`
	ModelParams map[string]interface{} `json:"model_params"`
	DatasetPath string                 `json:"dataset_path"`
	Device      string                 `json:"device"`
	TrackingURI string                 `json:"tracking_uri"`
}

// Trainer 外部训练进程的启动与事件流读取
type Trainer struct {
	cfg         *config.WorkerConfig
	trackingURI string
}

func NewTrainer(cfg *config.WorkerConfig, trackingURI string) *Trainer {
	return &Trainer{cfg: cfg, trackingURI: trackingURI}
}

// Run 启动训练进程并逐行回调事件。onEvent 返回 false 表示要求中止
// （取消检查点命中），进程组会被杀掉并返回 errTrainAborted。
func (t *Trainer) Run(ctx context.Context, job *model.TrainingJob, datasetPath, scratchDir string, onEvent func(*TrainerEvent) bool) error {
	spec := &trainerSpec{
		RunID:       job.ID,
		TaskType:    job.TaskType,
		Target:      job.Target,
		Split:       job.Split,
		ModelFamily: job.ModelFamily,
		ModelParams: job.ModelParams,
		DatasetPath: datasetPath,
		Device:      t.cfg.Device,
		TrackingURI: t.trackingURI,
	}

	specPath := filepath.Join(scratchDir, "job.json")
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal trainer spec: %w", err)
	}
	if err := os.WriteFile(specPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write trainer spec: %w", err)
	}

	args := append(append([]string{}, t.cfg.TrainerArgs...), specPath)
	cmd := exec.CommandContext(ctx, t.cfg.TrainerCmd, args...)
	cmd.Dir = scratchDir
	cmd.Stderr = os.Stderr
	// 训练器可能再 fork 子进程，放进独立进程组方便整组杀掉
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start trainer: %w", err)
	}

	aborted := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev TrainerEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// 非 JSON 行当作训练器日志，忽略
			continue
		}

		if !onEvent(&ev) {
			aborted = true
			t.kill(cmd)
			break
		}
	}

	waitErr := cmd.Wait()
	if aborted {
		return errTrainAborted
	}
	if waitErr != nil {
		return fmt.Errorf("trainer exited abnormally: %w", waitErr)
	}
	return nil
}

// kill 杀掉整个进程组
func (t *Trainer) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	cmd.Process.Kill()
}
