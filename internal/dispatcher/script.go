package dispatcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mushroom-automation/internal/models"

	"go.uber.org/zap"
)

// ScriptRunner custom_script 动作的执行方
type ScriptRunner interface {
	Run(ctx context.Context, environmentID string, params models.CustomScriptParams) error
}

// DisabledScriptRunner 未启用脚本时使用：记录并拒绝
type DisabledScriptRunner struct {
	logger *zap.Logger
}

// NewDisabledScriptRunner 创建禁用的脚本执行方
func NewDisabledScriptRunner(logger *zap.Logger) *DisabledScriptRunner {
	return &DisabledScriptRunner{logger: logger}
}

func (r *DisabledScriptRunner) Run(_ context.Context, environmentID string, params models.CustomScriptParams) error {
	r.logger.Warn("Custom script requested but scripts are disabled",
		zap.String("environment_id", environmentID),
		zap.String("script_path", params.ScriptPath),
	)
	return fmt.Errorf("%w: custom scripts are disabled", models.ErrDispatchFailure)
}

// ExecScriptRunner 在限定目录内执行脚本
// 脚本参数以 MUSHROOM_PARAM_<KEY> 环境变量传入，环境ID为 MUSHROOM_ENVIRONMENT_ID
type ExecScriptRunner struct {
	dir     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecScriptRunner 创建脚本执行方
func NewExecScriptRunner(dir string, timeout time.Duration, logger *zap.Logger) *ExecScriptRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecScriptRunner{dir: dir, timeout: timeout, logger: logger}
}

// resolve 解析脚本路径，拒绝目录之外的路径
func (r *ExecScriptRunner) resolve(scriptPath string) (string, error) {
	if filepath.IsAbs(scriptPath) {
		return "", fmt.Errorf("%w: script path must be relative: %s", models.ErrValidation, scriptPath)
	}
	cleaned := filepath.Clean(scriptPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: script path escapes script dir: %s", models.ErrValidation, scriptPath)
	}
	return filepath.Join(r.dir, cleaned), nil
}

func (r *ExecScriptRunner) Run(ctx context.Context, environmentID string, params models.CustomScriptParams) error {
	path, err := r.resolve(params.ScriptPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "MUSHROOM_ENVIRONMENT_ID="+environmentID)
	keys := make([]string, 0, len(params.Parameters))
	for k := range params.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, "MUSHROOM_PARAM_"+strings.ToUpper(k)+"="+params.Parameters[k])
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Error("Custom script failed",
			zap.String("environment_id", environmentID),
			zap.String("script_path", params.ScriptPath),
			zap.ByteString("output", output),
			zap.Error(err),
		)
		return fmt.Errorf("%w: script %s: %v", models.ErrDispatchFailure, params.ScriptPath, err)
	}

	r.logger.Info("Custom script completed",
		zap.String("environment_id", environmentID),
		zap.String("script_path", params.ScriptPath),
	)
	return nil
}
