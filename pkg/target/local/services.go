package local

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
)

// StartServices creates an isolated bridge network and one background
// container per declared service, each reachable by the rest of the task's
// containers under its DNS alias. It returns that network's id so the
// task's own command container can join it, and a teardown that always
// removes every container it managed to start plus the network, even when
// startup itself failed partway through — a task's services must never
// leak.
func (t *Target) StartServices(ctx context.Context, runID, taskName string, services []graph.Service) (string, func(context.Context) error, error) {
	if len(services) == 0 {
		return "", func(context.Context) error { return nil }, nil
	}

	netName := fmt.Sprintf("sykli-%s-%06d", sanitize(taskName), rand.Intn(1_000_000))
	netResp, err := t.docker.NetworkCreate(ctx, netName, types.NetworkCreate{Driver: "bridge"})
	if err != nil {
		return "", noopTeardown, errors.ServiceStart("network:"+netName, err)
	}

	started := make([]string, 0, len(services))
	teardown := func(ctx context.Context) error {
		var firstErr error
		for _, id := range started {
			if err := t.docker.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := t.docker.NetworkRemove(ctx, netResp.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	for _, svc := range services {
		resp, err := t.docker.ContainerCreate(ctx, &container.Config{
			Image: svc.Image,
		}, &container.HostConfig{
			NetworkMode: container.NetworkMode(netResp.ID),
		}, &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				netResp.ID: {Aliases: []string{svc.Name}},
			},
		}, nil, "")
		if err != nil {
			teardown(context.Background())
			return "", noopTeardown, errors.ServiceStart(svc.Name, err)
		}
		if err := t.docker.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
			started = append(started, resp.ID)
			teardown(context.Background())
			return "", noopTeardown, errors.ServiceStart(svc.Name, err)
		}
		started = append(started, resp.ID)
	}

	return netResp.ID, teardown, nil
}

func noopTeardown(context.Context) error { return nil }

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			out = append(out, r)
		} else if r >= 'A' && r <= 'Z' {
			out = append(out, r+('a'-'A'))
		} else {
			out = append(out, '-')
		}
	}
	return string(out)
}
