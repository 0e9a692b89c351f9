package gitsync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DylanDDeng/notely-sub000/internal/gitcmd"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

var testIdentity = gitcmd.IdentityEnv("Test User", "test@example.com")

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found on PATH")
	}
}

// gitT runs git in dir for test setup and fails the test on error.
func gitT(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), testIdentity...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// remoteFixture is a bare repository reachable as testRemote plus a seed
// clone used to simulate another device.
type remoteFixture struct {
	bare string
	seed string
}

func newRemote(t *testing.T, seeded bool) remoteFixture {
	t.Helper()
	root := t.TempDir()
	f := remoteFixture{
		bare: filepath.Join(root, "remote.git"),
		seed: filepath.Join(root, "seed"),
	}
	gitT(t, root, "init", "--bare", f.bare)
	gitT(t, f.bare, "symbolic-ref", "HEAD", "refs/heads/main")

	if err := os.MkdirAll(f.seed, 0o755); err != nil {
		t.Fatal(err)
	}
	gitT(t, f.seed, "init")
	gitT(t, f.seed, "symbolic-ref", "HEAD", "refs/heads/main")
	gitT(t, f.seed, "remote", "add", "origin", f.bare)
	if seeded {
		f.commit(t, "a.md", "base\n")
	}
	return f
}

// commit writes a file in the seed clone and pushes it.
func (f remoteFixture) commit(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.seed, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	gitT(t, f.seed, "add", name)
	gitT(t, f.seed, "-c", "commit.gpgsign=false", "commit", "-m", "seed "+name)
	gitT(t, f.seed, "push", "origin", "HEAD:refs/heads/main")
}

func (f remoteFixture) head(t *testing.T) string {
	t.Helper()
	cmd := exec.Command("git", "--git-dir", f.bare, "rev-parse", "--verify", "--quiet", "refs/heads/main")
	out, _ := cmd.Output()
	return strings.TrimSpace(string(out))
}

// newGitEngine wires a real runner whose https remote resolves to the
// fixture's bare repository.
func newGitEngine(t *testing.T, f remoteFixture, vaultDir string) (*Engine, *syncconfig.Store) {
	t.Helper()
	runner := gitcmd.NewRunner(t.TempDir(), gitcmd.WithEnv(
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=url."+f.bare+".insteadOf",
		"GIT_CONFIG_VALUE_0="+testRemote,
	))
	store := syncconfig.NewStore(syncconfig.NewMemoryBackend(nil), quietLogger())
	e := New(store, fakeVault{}, runner, vaultDir,
		WithLogger(quietLogger()),
		WithIdentity("Notely Test", "notely@example.com"))
	return e, store
}

func TestIntegration_ConnectAndPushNewNotes(t *testing.T) {
	requireGit(t)
	remote := newRemote(t, false)
	vault := t.TempDir()
	e, store := newGitEngine(t, remote, vault)

	setup := e.Connect(context.Background(), ConnectRequest{RemoteURL: testRemote, Token: "pat"})
	if !setup.Success || !setup.RepoInitialized || !setup.RemoteConnected {
		t.Fatalf("connect = %+v", setup)
	}
	if st := store.Get(); !st.Enabled || st.VaultPath != e.Dir() {
		t.Fatalf("state after connect = %+v", st)
	}
	ignore, _ := os.ReadFile(filepath.Join(vault, ".gitignore"))
	if !strings.Contains(string(ignore), ".history/") {
		t.Errorf(".gitignore = %q", ignore)
	}

	if err := os.WriteFile(filepath.Join(vault, "note.md"), []byte("# hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(vault, ".history", "note.md"), 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(vault, ".history", "note.md", "index.json"), []byte("{}"), 0o644)

	res := e.Run(context.Background(), ReasonManual)
	if !res.Success || res.CommitsCreated != 1 || !res.Pushed || res.Pulled {
		t.Fatalf("first run = %+v", res)
	}
	if remote.head(t) == "" {
		t.Fatal("remote branch was not created")
	}
	tree := gitT(t, vault, "ls-tree", "-r", "--name-only", "HEAD")
	if tree != "note.md" {
		t.Errorf("committed tree = %q, want only note.md", tree)
	}

	res = e.Run(context.Background(), ReasonAuto)
	if !res.Success || res.CommitsCreated != 0 || res.Pushed || res.Pulled {
		t.Errorf("idle run = %+v", res)
	}
}

func TestIntegration_PullIntoEmptyVault(t *testing.T) {
	requireGit(t)
	remote := newRemote(t, true)
	vault := t.TempDir()
	e, _ := newGitEngine(t, remote, vault)

	if setup := e.Connect(context.Background(), ConnectRequest{RemoteURL: testRemote, Token: "pat"}); !setup.Success {
		t.Fatalf("connect = %+v", setup)
	}
	res := e.Run(context.Background(), ReasonManual)
	if !res.Success || !res.Pulled || res.Pushed {
		t.Fatalf("run = %+v", res)
	}
	data, err := os.ReadFile(filepath.Join(vault, "a.md"))
	if err != nil || string(data) != "base\n" {
		t.Errorf("a.md = %q, %v", data, err)
	}
}

func TestIntegration_RebaseConflictWritesCopies(t *testing.T) {
	requireGit(t)
	remote := newRemote(t, true)
	vault := t.TempDir()
	e, store := newGitEngine(t, remote, vault)

	if setup := e.Connect(context.Background(), ConnectRequest{RemoteURL: testRemote, Token: "pat"}); !setup.Success {
		t.Fatalf("connect = %+v", setup)
	}
	if res := e.Run(context.Background(), ReasonManual); !res.Success {
		t.Fatalf("initial pull = %+v", res)
	}

	remote.commit(t, "a.md", "remote text\n")
	if err := os.WriteFile(filepath.Join(vault, "a.md"), []byte("local text\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := e.Run(context.Background(), ReasonManual)
	if res.Status != syncconfig.StatusConflict {
		t.Fatalf("status = %q (%s), want conflict", res.Status, res.Message)
	}
	if res.Pushed {
		t.Error("pushed despite conflict")
	}
	if len(res.ConflictFiles) != 2 {
		t.Fatalf("conflict files = %v", res.ConflictFiles)
	}

	copies := map[string]string{}
	for _, name := range res.ConflictFiles {
		data, err := os.ReadFile(filepath.Join(vault, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		copies[name] = strings.TrimSpace(string(data))
	}
	for name, content := range copies {
		switch {
		case strings.HasPrefix(name, "a.conflict-local-") && strings.HasSuffix(name, ".md"):
			if content != "local text" {
				t.Errorf("%s = %q, want local text", name, content)
			}
		case strings.HasPrefix(name, "a.conflict-remote-") && strings.HasSuffix(name, ".md"):
			if content != "remote text" {
				t.Errorf("%s = %q, want remote text", name, content)
			}
		default:
			t.Errorf("unexpected copy name %q", name)
		}
	}

	for _, d := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(vault, ".git", d)); err == nil {
			t.Errorf("rebase still in progress (%s exists)", d)
		}
	}
	data, _ := os.ReadFile(filepath.Join(vault, "a.md"))
	if strings.TrimSpace(string(data)) != "local text" {
		t.Errorf("working tree a.md = %q, want the pre-rebase local commit", data)
	}
	if subject := gitT(t, vault, "log", "-1", "--format=%s"); !strings.HasPrefix(subject, "notely: manual sync") {
		t.Errorf("HEAD subject = %q", subject)
	}

	st := store.Get()
	if st.LastStatus != syncconfig.StatusConflict || len(st.LastConflictFiles) != 2 {
		t.Errorf("persisted = %+v", st)
	}
}

func TestIntegration_DivergenceGuard(t *testing.T) {
	requireGit(t)
	remote := newRemote(t, true)
	before := remote.head(t)

	vault := t.TempDir()
	if err := os.WriteFile(filepath.Join(vault, "note1.md"), []byte("mine\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e, store := newGitEngine(t, remote, vault)

	setup := e.Connect(context.Background(), ConnectRequest{RemoteURL: testRemote, Token: "pat"})
	if setup.Success {
		t.Fatalf("connect succeeded over diverging histories: %+v", setup)
	}
	if !strings.Contains(setup.Message, "empty remote") {
		t.Errorf("message = %q", setup.Message)
	}
	if after := remote.head(t); after != before {
		t.Errorf("remote moved from %s to %s", before, after)
	}
	if has, _ := (gitcmd.Inspector{}).HasCommits(vault); has {
		t.Error("local commits were created")
	}
	if store.Get().Enabled {
		t.Error("sync enabled after refused setup")
	}
}
