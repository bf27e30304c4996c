package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/pkg/sdk"
	"github.com/picklr-io/sweep/pkg/sdk/sdktest"
)

const passwdFixture = `# local accounts
root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
alice:x:1000:1000:Alice:/home/alice:/bin/zsh

+@netgroup::::::
nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin
`

// fakeRunner applies useradd and userdel to a passwd file.
type fakeRunner struct {
	path  string
	calls []string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.err != nil {
		return f.err
	}

	user := args[len(args)-1]
	flags := map[string]string{}
	for i := 0; i+1 < len(args)-1; i++ {
		if strings.HasPrefix(args[i], "-") && args[i] != "-m" {
			flags[args[i]] = args[i+1]
			i++
		}
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	var kept []string
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if !strings.HasPrefix(line, user+":") {
			kept = append(kept, line)
		}
	}

	switch name {
	case "useradd", "usermod":
		gid := flags["-g"]
		if gid == "" {
			gid = flags["-u"]
		}
		kept = append(kept, fmt.Sprintf("%s:x:%s:%s:%s:%s:%s", user, flags["-u"], gid, flags["-c"], flags["-d"], flags["-s"]))
	case "userdel":
	default:
		return fmt.Errorf("unexpected command %s", name)
	}
	return os.WriteFile(f.path, []byte(strings.Join(kept, "\n")+"\n"), 0o644)
}

func newTestProvider(t *testing.T) (*Provider, *fakeRunner) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(path, []byte(passwdFixture), 0o644))
	r := &fakeRunner{path: path}
	return New(WithPasswdFile(path), WithRunner(r)), r
}

func TestReadPasswd(t *testing.T) {
	p, _ := newTestProvider(t)

	accounts, err := ReadPasswd(p.passwd)
	require.NoError(t, err)
	require.Len(t, accounts, 4)
	assert.Equal(t, Account{Name: "alice", UID: 1000, GID: 1000, Comment: "Alice", Home: "/home/alice", Shell: "/bin/zsh"}, accounts[2])
	assert.Equal(t, 65534, accounts[3].UID)
}

func TestReadPasswd_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")

	require.NoError(t, os.WriteFile(path, []byte("root:x:0:0\n"), 0o644))
	_, err := ReadPasswd(path)
	assert.ErrorContains(t, err, "expected 7 fields")

	require.NoError(t, os.WriteFile(path, []byte("root:x:zero:0::/root:/bin/sh\n"), 0o644))
	_, err = ReadPasswd(path)
	assert.ErrorContains(t, err, `invalid uid "zero"`)

	_, err = ReadPasswd(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestEnumerate(t *testing.T) {
	p, _ := newTestProvider(t)

	resp, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: TypeUser})
	require.NoError(t, err)
	require.Len(t, resp.Instances, 4)

	alice := resp.Instances[2]
	assert.Equal(t, ir.Reference{Type: TypeUser, Name: "alice"}, alice.Ref)
	require.NotNil(t, alice.Identifier)
	assert.Equal(t, 1000, *alice.Identifier)
	assert.Equal(t, "/home/alice", alice.Attributes["home"])
	assert.Equal(t, float64(1000), alice.Attributes["uid"])
	assert.NotContains(t, alice.Attributes, "name")
}

func TestTypes(t *testing.T) {
	types := New().Types()
	require.Len(t, types, 1)
	assert.True(t, types[0].Purgeable())
	assert.True(t, types[0].Capabilities.IdentityProtected)
}

func TestApplyArgs(t *testing.T) {
	p, r := newTestProvider(t)
	uid := 1500

	desired, _ := json.Marshal(UserConfig{UID: &uid, Home: "/srv/deploy", Shell: "/bin/sh", Comment: "Deploy", ManageHome: true})
	resp, err := p.Apply(context.Background(), &sdk.ApplyRequest{Type: TypeUser, Name: "deploy", DesiredConfigJSON: desired})
	require.NoError(t, err)

	assert.Equal(t, []string{"useradd -u 1500 -d /srv/deploy -s /bin/sh -c Deploy -m deploy"}, r.calls)

	var state Account
	require.NoError(t, json.Unmarshal(resp.NewStateJSON, &state))
	assert.Equal(t, 1500, state.UID)

	shell := "/bin/bash"
	desired, _ = json.Marshal(UserConfig{UID: &uid, Shell: shell})
	_, err = p.Apply(context.Background(), &sdk.ApplyRequest{Type: TypeUser, Name: "deploy", DesiredConfigJSON: desired})
	require.NoError(t, err)
	assert.Equal(t, "usermod -u 1500 -s /bin/bash deploy", r.calls[1])
}

func TestPlanDetectsDrift(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	desired, _ := json.Marshal(map[string]any{"shell": "/bin/bash"})
	resp, err := p.Plan(ctx, &sdk.PlanRequest{Type: TypeUser, Name: "alice", DesiredConfigJSON: desired})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionUpdate, resp.Action)
	assert.Equal(t, []string{"shell"}, resp.ChangedAttributes)

	desired, _ = json.Marshal(map[string]any{"shell": "/bin/zsh", "manage_home": true})
	resp, err = p.Plan(ctx, &sdk.PlanRequest{Type: TypeUser, Name: "alice", DesiredConfigJSON: desired})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, resp.Action)

	resp, err = p.Plan(ctx, &sdk.PlanRequest{Type: TypeUser, Name: "bob", DesiredConfigJSON: desired})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionCreate, resp.Action)
}

func TestDelete(t *testing.T) {
	p, r := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Delete(ctx, &sdk.DeleteRequest{Type: TypeUser, Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"userdel alice"}, r.calls)

	_, err = p.Delete(ctx, &sdk.DeleteRequest{Type: TypeUser, Name: "alice"})
	require.NoError(t, err)
	assert.Len(t, r.calls, 1, "absent user is not deleted twice")
}

func TestRunnerErrorSurfaces(t *testing.T) {
	p, r := newTestProvider(t)
	r.err = errors.New("userdel: user alice is currently used by process 1")

	_, err := p.Delete(context.Background(), &sdk.DeleteRequest{Type: TypeUser, Name: "alice"})
	assert.ErrorContains(t, err, "currently used")
}

func TestUnknownType(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: "group"})
	assert.ErrorIs(t, err, sdk.ErrUnknownType)
}

func TestConformance_FullLifecycle(t *testing.T) {
	p, _ := newTestProvider(t)

	sdktest.RunLifecycle(t, p, sdktest.Lifecycle{
		Type: TypeUser,
		Name: "deploy",
		Desired: map[string]any{
			"uid":         1500,
			"home":        "/home/deploy",
			"shell":       "/bin/bash",
			"manage_home": true,
		},
	})
}
