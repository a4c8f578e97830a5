package gitinfo

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo reads committed content through go-git. It is safe for concurrent use.
type Repo struct {
	root string

	mu   sync.Mutex
	repo *git.Repository
}

// Open opens the repository containing path.
func Open(path string) (*Repo, error) {
	root := Root(path)
	if root == "" {
		return nil, ErrNotRepository
	}
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", root, err)
	}
	return &Repo{root: root, repo: repo}, nil
}

func (r *Repo) Root() string { return r.root }

// HeadCommit returns the hash HEAD resolves to. A repository without commits
// yields "" and no error.
func (r *Repo) HeadCommit() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// FileAtHead returns the content of rel (relative to the root, either
// separator) in the HEAD commit. ok is false when HEAD has no such file or
// there is no HEAD yet.
func (r *Repo) FileAtHead(rel string) (content string, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return "", false, fmt.Errorf("read commit %s: %w", head.Hash(), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", false, err
	}
	file, err := tree.File(filepath.ToSlash(rel))
	if errors.Is(err, object.ErrFileNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	content, err = file.Contents()
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}
