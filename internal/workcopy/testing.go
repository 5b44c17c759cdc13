package workcopy

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
)

var installFileServer sync.Once

// useInProcessFileTransport serves file remotes without a git binary.
func useInProcessFileTransport() {
	installFileServer.Do(func() {
		client.InstallProtocol("file", server.DefaultServer)
	})
}

// NewTestOrigin creates a bare repository whose branch holds files and
// returns its path, usable as Config.URL.
func NewTestOrigin(tb testing.TB, branch string, files map[string]string) string {
	tb.Helper()
	useInProcessFileTransport()

	origin := filepath.Join(tb.TempDir(), "origin.git")
	_, err := git.PlainInitWithOptions(origin, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	if err != nil {
		tb.Fatalf("init origin: %v", err)
	}

	seed := filepath.Join(tb.TempDir(), "seed")
	repo, err := git.PlainInitWithOptions(seed, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	if err != nil {
		tb.Fatalf("init seed: %v", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: remoteName, URLs: []string{origin}}); err != nil {
		tb.Fatalf("add remote: %v", err)
	}
	commitAndPush(tb, repo, seed, branch, files, "initial commit")
	return origin
}

// CommitToOrigin adds a commit with files on top of branch in origin.
func CommitToOrigin(tb testing.TB, origin, branch string, files map[string]string, message string) {
	tb.Helper()
	useInProcessFileTransport()

	dir := filepath.Join(tb.TempDir(), "upstream")
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           origin,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		tb.Fatalf("clone origin: %v", err)
	}
	commitAndPush(tb, repo, dir, branch, files, message)
}

func commitAndPush(tb testing.TB, repo *git.Repository, dir, branch string, files map[string]string, message string) {
	tb.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		tb.Fatalf("worktree: %v", err)
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		abs := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			tb.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte(files[p]), 0o644); err != nil {
			tb.Fatalf("write %s: %v", p, err)
		}
		if _, err := wt.Add(p); err != nil {
			tb.Fatalf("add %s: %v", p, err)
		}
	}
	sig := &object.Signature{Name: "fixture", Email: "fixture@example.com", When: time.Now()}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: sig, AllowEmptyCommits: true}); err != nil {
		tb.Fatalf("commit: %v", err)
	}
	ref := plumbing.NewBranchReferenceName(branch)
	err = repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
	})
	if err != nil {
		tb.Fatalf("push: %v", err)
	}
}

// OriginFile returns path at the tip of branch in origin.
func OriginFile(tb testing.TB, origin, branch, path string) (string, bool) {
	tb.Helper()
	repo, err := git.PlainOpen(origin)
	if err != nil {
		tb.Fatalf("open origin: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", false
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		tb.Fatalf("commit object: %v", err)
	}
	f, err := commit.File(path)
	if err != nil {
		return "", false
	}
	content, err := f.Contents()
	if err != nil {
		tb.Fatalf("contents: %v", err)
	}
	return content, true
}

// OriginBranches lists the branches in origin, sorted.
func OriginBranches(tb testing.TB, origin string) []string {
	tb.Helper()
	repo, err := git.PlainOpen(origin)
	if err != nil {
		tb.Fatalf("open origin: %v", err)
	}
	iter, err := repo.Branches()
	if err != nil {
		tb.Fatalf("branches: %v", err)
	}
	var names []string
	_ = iter.ForEach(func(r *plumbing.Reference) error {
		names = append(names, r.Name().Short())
		return nil
	})
	sort.Strings(names)
	return names
}

// OriginCommitMessage returns the tip commit message of branch.
func OriginCommitMessage(tb testing.TB, origin, branch string) string {
	tb.Helper()
	repo, err := git.PlainOpen(origin)
	if err != nil {
		tb.Fatalf("open origin: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		tb.Fatalf("resolve %s: %v", branch, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		tb.Fatalf("commit object: %v", err)
	}
	return commit.Message
}
