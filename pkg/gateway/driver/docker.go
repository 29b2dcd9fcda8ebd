package driver

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/gateway/config"
)

// DockerDriver implements Driver over the Docker engine API.
type DockerDriver struct {
	cli *client.Client
}

func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerDriver{cli: cli}, nil
}

func (d *DockerDriver) Create(ctx context.Context, opts CreateOptions) (string, error) {
	labels := map[string]string{
		config.ManagedByLabelKey: config.ManagedByLabelValue,
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}
	cfg := &container.Config{
		Image:  opts.Image,
		Labels: labels,
		Env:    opts.Env,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(opts.Network),
		Resources: container.Resources{
			Memory:    opts.MemoryBytes,
			CPUShares: opts.CPUShares,
		},
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", classifyCreateError(err)
	}
	for _, warning := range resp.Warnings {
		klog.FromContext(ctx).Info("engine warning on container create", "name", opts.Name, "warning", warning)
	}
	return resp.ID, nil
}

func (d *DockerDriver) Start(ctx context.Context, containerID string) error {
	return d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (d *DockerDriver) Stop(ctx context.Context, containerID string) error {
	return d.cli.ContainerStop(ctx, containerID, container.StopOptions{})
}

func (d *DockerDriver) Remove(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerDriver) ListManaged(ctx context.Context) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", config.ManagedByLabelKey+"="+config.ManagedByLabelValue),
		),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

// classifyCreateError separates engine transients from failures that cannot
// succeed on retry.
func classifyCreateError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case client.IsErrNotFound(err),
		strings.Contains(msg, "no such image"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "invalid"):
		return &CreateError{Retryable: false, Err: err}
	default:
		return &CreateError{Retryable: true, Err: err}
	}
}
