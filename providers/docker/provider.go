package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/pkg/sdk"
)

const (
	TypeContainer = "docker_container"
	TypeVolume    = "docker_volume"

	// KeepLabel protects a container or volume from purging when set to "true".
	KeepLabel = "sweep.keep"
)

// API is the subset of the Docker client used by the provider.
type API interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error)
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
}

type Provider struct {
	newClient func() (API, error)

	mu     sync.Mutex
	client API
}

func New() *Provider {
	return NewWithClient(func() (API, error) {
		return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	})
}

// NewWithClient returns a provider that obtains its client from f on first use.
func NewWithClient(f func() (API, error)) *Provider {
	return &Provider{newClient: f}
}

func (p *Provider) Name() string { return "docker" }

func (p *Provider) Types() []ir.ResourceType {
	purgeable := ir.Capabilities{Enumerable: true, Absentable: true}
	return []ir.ResourceType{
		{Name: TypeContainer, Provider: "docker", Capabilities: purgeable},
		{Name: TypeVolume, Provider: "docker", Capabilities: purgeable},
	}
}

func (p *Provider) ensureClient() (API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	c, err := p.newClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	p.client = c
	return c, nil
}

// Checks keeps instances labelled KeepLabel=true.
func (p *Provider) Checks() map[string]sdk.KeepFunc {
	keep := func(inst ir.LiveInstance) bool {
		labels, _ := inst.Attributes["labels"].(map[string]any)
		return labels[KeepLabel] == "true"
	}
	return map[string]sdk.KeepFunc{
		TypeContainer: keep,
		TypeVolume:    keep,
	}
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.DesiredConfigJSON == nil && req.PriorStateJSON != nil {
		return &sdk.PlanResponse{Action: ir.ActionDelete}, nil
	}
	if len(req.PriorStateJSON) == 0 {
		return &sdk.PlanResponse{Action: ir.ActionCreate}, nil
	}

	switch req.Type {
	case TypeContainer:
		var desired ContainerConfig
		if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
		}
		var prior ContainerState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
		}
		if desired.Image != prior.Image {
			return &sdk.PlanResponse{Action: ir.ActionReplace, ChangedAttributes: []string{"image"}}, nil
		}
		return &sdk.PlanResponse{Action: ir.ActionNoop}, nil

	case TypeVolume:
		var desired VolumeConfig
		if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
		}
		var prior VolumeState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
		}
		if desired.Driver != "" && desired.Driver != prior.Driver {
			return &sdk.PlanResponse{Action: ir.ActionReplace, ChangedAttributes: []string{"driver"}}, nil
		}
		return &sdk.PlanResponse{Action: ir.ActionNoop}, nil
	}

	return nil, sdk.UnknownType(req.Type)
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	c, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeContainer:
		return p.applyContainer(ctx, c, req)
	case TypeVolume:
		return p.applyVolume(ctx, c, req)
	}
	return nil, sdk.UnknownType(req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	c, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeContainer:
		var current ContainerState
		if len(req.CurrentStateJSON) > 0 {
			if err := json.Unmarshal(req.CurrentStateJSON, &current); err != nil {
				return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
			}
		}
		id := current.ID
		if id == "" {
			id = req.Name
		}
		timeout := 10
		_ = c.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err := c.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove container: %w", err)
			}
		}
		return &sdk.DeleteResponse{}, nil

	case TypeVolume:
		if err := c.VolumeRemove(ctx, req.Name, true); err != nil {
			if !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return &sdk.DeleteResponse{}, nil
	}

	return nil, sdk.UnknownType(req.Type)
}

func (p *Provider) Enumerate(ctx context.Context, req *sdk.EnumerateRequest) (*sdk.EnumerateResponse, error) {
	if req.Type != TypeContainer && req.Type != TypeVolume {
		return nil, sdk.UnknownType(req.Type)
	}

	c, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	var out []ir.LiveInstance
	switch req.Type {
	case TypeContainer:
		list, err := c.ContainerList(ctx, container.ListOptions{All: true})
		if err != nil {
			return nil, fmt.Errorf("failed to list containers: %w", err)
		}
		for _, ctr := range list {
			if len(ctr.Names) == 0 {
				continue
			}
			out = append(out, ir.NewLiveInstance(TypeContainer, strings.TrimPrefix(ctr.Names[0], "/"), map[string]any{
				"id":     ctr.ID,
				"image":  ctr.Image,
				"state":  ctr.State,
				"labels": labelsToAny(ctr.Labels),
			}))
		}

	case TypeVolume:
		resp, err := c.VolumeList(ctx, volume.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to list volumes: %w", err)
		}
		for _, vol := range resp.Volumes {
			out = append(out, ir.NewLiveInstance(TypeVolume, vol.Name, map[string]any{
				"driver": vol.Driver,
				"labels": labelsToAny(vol.Labels),
			}))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Name < out[j].Ref.Name })
	return &sdk.EnumerateResponse{Instances: out}, nil
}

func (p *Provider) applyContainer(ctx context.Context, c API, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired ContainerConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	name := desired.Name
	if name == "" {
		name = req.Name
	}

	reader, err := c.ImagePull(ctx, desired.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()
	logging.Debug("pulled image", "image", desired.Image)

	portBindings := nat.PortMap{}
	exposed := nat.PortSet{}
	for hostPort, containerPort := range desired.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[port] = struct{}{}
		portBindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        resolveBinds(desired.Volumes),
	}
	if desired.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(desired.Network)
	}
	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(desired.Restart)}
	}

	resp, err := c.ContainerCreate(ctx,
		&container.Config{
			Image:        desired.Image,
			Cmd:          desired.Command,
			Env:          mapToEnvList(desired.Env),
			Labels:       desired.Labels,
			ExposedPorts: exposed,
		},
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := c.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	stateJSON, err := json.Marshal(ContainerState{ID: resp.ID, Name: name, Image: desired.Image})
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) applyVolume(ctx context.Context, c API, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired VolumeConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	vol, err := c.VolumeCreate(ctx, volume.CreateOptions{
		Name:   req.Name,
		Driver: desired.Driver,
		Labels: desired.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	stateJSON, err := json.Marshal(VolumeState{Name: vol.Name, Driver: vol.Driver})
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// resolveBinds makes relative host paths absolute.
func resolveBinds(volumes []string) []string {
	binds := make([]string, 0, len(volumes))
	for _, v := range volumes {
		host, rest, ok := strings.Cut(v, ":")
		if ok && (strings.HasPrefix(host, "./") || strings.HasPrefix(host, "../")) {
			if abs, err := filepath.Abs(host); err == nil {
				v = abs + ":" + rest
			}
		}
		binds = append(binds, v)
	}
	return binds
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

func labelsToAny(labels map[string]string) map[string]any {
	out := make(map[string]any, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

type ContainerConfig struct {
	Image   string            `json:"image"`
	Name    string            `json:"name"`
	Command []string          `json:"command"`
	Ports   map[string]int    `json:"ports"`
	Env     map[string]string `json:"env"`
	Network string            `json:"network"`
	Volumes []string          `json:"volumes"`
	Labels  map[string]string `json:"labels"`
	Restart string            `json:"restart"`
}

type ContainerState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type VolumeConfig struct {
	Driver string            `json:"driver"`
	Labels map[string]string `json:"labels"`
}

type VolumeState struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}
