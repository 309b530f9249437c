package local

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/target"
)

// runContainer creates, starts, streams and removes a one-shot container
// for spec: the same create -> start -> follow logs -> wait -> remove
// sequence the wider pack's container driver uses, narrowed to what a
// single task attempt needs.
func (t *Target) runContainer(ctx context.Context, spec target.RunSpec, out io.Writer) (int, error) {
	mounts, err := toDockerMounts(spec.Mounts, spec.Resources)
	if err != nil {
		return -1, err
	}

	hostConfig := &container.HostConfig{Mounts: mounts}
	var netConfig *network.NetworkingConfig
	if spec.NetworkID != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.NetworkID)
		netConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.NetworkID: {},
			},
		}
	}

	resp, err := t.docker.ContainerCreate(ctx, &container.Config{
		Image:      spec.Container,
		Cmd:        []string{"/bin/sh", "-c", spec.Command},
		Env:        envSlice(spec.Env),
		WorkingDir: spec.Workdir,
		Tty:        false,
	}, hostConfig, netConfig, nil, "")
	if err != nil {
		return -1, err
	}
	defer t.docker.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})

	if err := t.docker.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return -1, err
	}

	logs, err := t.docker.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true, ShowStderr: true, Follow: true,
	})
	if err != nil {
		return -1, err
	}
	defer logs.Close()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		stdcopy.StdCopy(out, out, logs)
	}()

	statusCh, errCh := t.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		<-streamDone
		return int(status.StatusCode), nil
	case <-ctx.Done():
		<-streamDone
		return -1, ctx.Err()
	}
}

// toDockerMounts resolves each mount's Resource id against resources and
// builds the docker mount it implies: a directory resource binds its host
// Path, a cache resource becomes a named volume shared across runs under
// sykli-cache-<sanitised resource name>.
func toDockerMounts(mounts []graph.Mount, resources map[string]graph.Resource) ([]mount.Mount, error) {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		res, ok := resources[m.Resource]
		if !ok {
			return nil, fmt.Errorf("local target: mount references unknown resource %q", m.Resource)
		}
		switch m.Kind {
		case graph.MountCache:
			out = append(out, mount.Mount{
				Type:   mount.TypeVolume,
				Source: "sykli-cache-" + sanitize(res.Name),
				Target: m.Path,
			})
		default:
			out = append(out, mount.Mount{
				Type:   mount.TypeBind,
				Source: res.Path,
				Target: m.Path,
			})
		}
	}
	return out, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
