// Package docker runs the external scorer inside a container, for hosts
// without the scorer's Python environment.
package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"notebatch/internal/domain/batch"
	"notebatch/internal/infra/scorer"
	"notebatch/internal/ports"
)

// dockerClient is the subset of the Docker SDK the runner depends on, kept
// narrow so tests can substitute a fake.
type dockerClient interface {
	Close() error
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// Config describes the containerized scorer.
type Config struct {
	// Image is the container image carrying the scorer's environment.
	Image string
	// Python is the interpreter inside the container.
	Python string
	// Main is the scorer entry point path, visible inside the container.
	Main string
	// ExtraArgs are appended after the fixed flag set.
	ExtraArgs []string
	// Mounts are host directories bind-mounted read-write at the same path
	// inside the container, so dataset and output paths stay valid verbatim.
	Mounts []string
}

// Runner executes scorer runs in one container per run via the Docker SDK.
type Runner struct {
	api      dockerClient
	cfg      Config
	pullOnce sync.Once
	pullErr  error
}

var _ ports.ScorerRunner = (*Runner)(nil)

// New creates a Runner backed by the ambient Docker daemon.
func New(cfg Config) (*Runner, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return newRunnerWithClient(cli, cfg), nil
}

func newRunnerWithClient(api dockerClient, cfg Config) *Runner {
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	return &Runner{api: api, cfg: cfg}
}

func validate(cfg Config) error {
	if cfg.Image == "" {
		return fmt.Errorf("docker scorer: image must be configured")
	}
	if cfg.Main == "" {
		return fmt.Errorf("docker scorer: entry point must be configured")
	}
	return nil
}

// RunOnce executes the scorer for one run inside a fresh container. The skip
// check and result semantics match the host runner: completed runs are never
// re-executed, and a non-zero scorer exit is a result, not an error.
func (r *Runner) RunOnce(ctx context.Context, run batch.Run) (*batch.Result, error) {
	done, err := scorer.RunComplete(run.OutDir)
	if err != nil {
		return nil, err
	}
	if done {
		zap.L().Debug("run already complete, skipping", zap.String("run", run.Label()))
		return &batch.Result{Status: batch.StatusSkipped}, nil
	}

	if err := os.MkdirAll(run.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	containerID, cleanup, err := r.createContainer(ctx, run)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	startedAt := time.Now()
	if err := r.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	status, err := r.waitForExit(ctx, containerID)
	if err != nil {
		return nil, err
	}
	finishedAt := time.Now()

	if err := r.writeRunLog(ctx, containerID, run.OutDir); err != nil {
		return nil, err
	}

	result := &batch.Result{
		Status:     batch.StatusOK,
		ExitCode:   status.StatusCode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
	}
	if status.StatusCode != 0 {
		result.Status = batch.StatusFailed
	}
	return result, nil
}

// Close releases the underlying Docker client resources.
func (r *Runner) Close() error {
	if r.api == nil {
		return nil
	}
	return r.api.Close()
}

func (r *Runner) ensureImage(ctx context.Context) error {
	r.pullOnce.Do(func() {
		reader, err := r.api.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
		if err != nil {
			r.pullErr = fmt.Errorf("pull image: %w", err)
			return
		}
		defer reader.Close()
		if _, err := io.Copy(io.Discard, reader); err != nil {
			r.pullErr = fmt.Errorf("consume pull output: %w", err)
		}
	})
	return r.pullErr
}

func (r *Runner) createContainer(ctx context.Context, run batch.Run) (string, func(), error) {
	binds := make([]string, 0, len(r.cfg.Mounts)+1)
	for _, mount := range r.cfg.Mounts {
		binds = append(binds, mount+":"+mount)
	}
	outParent := filepath.Dir(run.OutDir)
	binds = append(binds, outParent+":"+outParent)

	resp, err := r.api.ContainerCreate(
		ctx,
		&container.Config{
			Image: r.cfg.Image,
			Cmd:   scorer.CommandLine(r.cfg.Python, r.cfg.Main, r.cfg.ExtraArgs, run),
		},
		&container.HostConfig{Binds: binds},
		nil,
		nil,
		"",
	)
	if err != nil {
		return "", nil, fmt.Errorf("create container: %w", err)
	}

	cleanup := func() {
		_ = r.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}
	return resp.ID, cleanup, nil
}

func (r *Runner) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := r.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

// writeRunLog copies the container's combined output into the run directory,
// mirroring the host runner's output.log.
func (r *Runner) writeRunLog(ctx context.Context, containerID, outDir string) error {
	logs, err := r.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fmt.Errorf("fetch container logs: %w", err)
	}
	defer logs.Close()

	logFile, err := os.Create(filepath.Join(outDir, scorer.RunLogName))
	if err != nil {
		return fmt.Errorf("create run log: %w", err)
	}
	defer logFile.Close()

	if _, err := stdcopy.StdCopy(logFile, logFile, logs); err != nil {
		return fmt.Errorf("copy container logs: %w", err)
	}
	return nil
}
