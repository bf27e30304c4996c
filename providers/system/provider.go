// Package system manages local operating system accounts.
package system

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/pkg/sdk"
)

const (
	TypeUser = "user"

	DefaultPasswdFile = "/etc/passwd"
)

// Runner executes account management commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

type Provider struct {
	passwd string
	runner Runner
}

// Option configures a Provider.
type Option func(*Provider)

// WithPasswdFile reads accounts from path instead of /etc/passwd.
func WithPasswdFile(path string) Option {
	return func(p *Provider) { p.passwd = path }
}

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(p *Provider) { p.runner = r }
}

func New(opts ...Option) *Provider {
	p := &Provider{passwd: DefaultPasswdFile, runner: execRunner{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "system" }

func (p *Provider) Types() []ir.ResourceType {
	return []ir.ResourceType{{
		Name:     TypeUser,
		Provider: "system",
		Capabilities: ir.Capabilities{
			Enumerable:        true,
			Absentable:        true,
			IdentityProtected: true,
		},
	}}
}

// UserConfig is the desired configuration of a user. Zero values leave the
// choice to useradd.
type UserConfig struct {
	UID        *int   `json:"uid,omitempty"`
	GID        *int   `json:"gid,omitempty"`
	Home       string `json:"home,omitempty"`
	Shell      string `json:"shell,omitempty"`
	Comment    string `json:"comment,omitempty"`
	ManageHome bool   `json:"manage_home,omitempty"`
}

// Account is one passwd entry.
type Account struct {
	Name    string `json:"name"`
	UID     int    `json:"uid"`
	GID     int    `json:"gid"`
	Comment string `json:"comment"`
	Home    string `json:"home"`
	Shell   string `json:"shell"`
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.Type != TypeUser {
		return nil, sdk.UnknownType(req.Type)
	}
	if req.DesiredConfigJSON == nil {
		return sdk.PlanByComparison(req)
	}

	account, err := p.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &sdk.PlanResponse{Action: ir.ActionCreate}, nil
	}

	var desired map[string]any
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	delete(desired, "manage_home")

	observed, err := accountAttributes(account)
	if err != nil {
		return nil, err
	}
	if changed := sdk.ChangedKeys(desired, observed); len(changed) > 0 {
		return &sdk.PlanResponse{Action: ir.ActionUpdate, ChangedAttributes: changed}, nil
	}
	return &sdk.PlanResponse{Action: ir.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	if req.Type != TypeUser {
		return nil, sdk.UnknownType(req.Type)
	}

	var desired UserConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	existing, err := p.lookup(req.Name)
	if err != nil {
		return nil, err
	}

	cmd := "useradd"
	args := userArgs(desired)
	if existing != nil {
		cmd = "usermod"
	} else if desired.ManageHome {
		args = append(args, "-m")
	}
	args = append(args, req.Name)

	if err := p.runner.Run(ctx, cmd, args...); err != nil {
		return nil, err
	}
	logging.Info("user applied", "name", req.Name, "command", cmd)

	account, err := p.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("user %s not present after %s", req.Name, cmd)
	}
	stateJSON, err := json.Marshal(account)
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func userArgs(c UserConfig) []string {
	var args []string
	if c.UID != nil {
		args = append(args, "-u", strconv.Itoa(*c.UID))
	}
	if c.GID != nil {
		args = append(args, "-g", strconv.Itoa(*c.GID))
	}
	if c.Home != "" {
		args = append(args, "-d", c.Home)
	}
	if c.Shell != "" {
		args = append(args, "-s", c.Shell)
	}
	if c.Comment != "" {
		args = append(args, "-c", c.Comment)
	}
	return args
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.Type != TypeUser {
		return nil, sdk.UnknownType(req.Type)
	}

	existing, err := p.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		logging.Info("user already absent", "name", req.Name)
		return &sdk.DeleteResponse{}, nil
	}

	if err := p.runner.Run(ctx, "userdel", req.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) Enumerate(ctx context.Context, req *sdk.EnumerateRequest) (*sdk.EnumerateResponse, error) {
	if req.Type != TypeUser {
		return nil, sdk.UnknownType(req.Type)
	}

	accounts, err := ReadPasswd(p.passwd)
	if err != nil {
		return nil, err
	}

	out := make([]ir.LiveInstance, 0, len(accounts))
	for _, a := range accounts {
		attrs, err := accountAttributes(&a)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.NewLiveInstance(TypeUser, a.Name, attrs).WithIdentifier(a.UID))
	}
	return &sdk.EnumerateResponse{Instances: out}, nil
}

func (p *Provider) lookup(name string) (*Account, error) {
	accounts, err := ReadPasswd(p.passwd)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Name == name {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// accountAttributes renders an account in the same shape a decoded
// configuration has, so the two compare with sdk.ChangedKeys.
func accountAttributes(a *Account) (map[string]any, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	delete(attrs, "name")
	return attrs, nil
}

// ReadPasswd parses a passwd(5) file. Comments, blank lines and NIS
// compat entries are skipped.
func ReadPasswd(path string) ([]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var accounts []Account
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			return nil, fmt.Errorf("%s:%d: expected 7 fields, got %d", path, lineNo, len(fields))
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid uid %q", path, lineNo, fields[2])
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid gid %q", path, lineNo, fields[3])
		}
		accounts = append(accounts, Account{
			Name:    fields[0],
			UID:     uid,
			GID:     gid,
			Comment: fields[4],
			Home:    fields[5],
			Shell:   fields[6],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return accounts, nil
}
