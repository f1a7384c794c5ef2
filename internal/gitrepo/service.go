// Package gitrepo keeps a git history per document, one commit per
// persisted version.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"newsroom/api/internal/newsdoc"
)

const (
	documentFile  = "document.json"
	versionPrefix = "version: "
)

var ErrVersionNotFound = errors.New("version not found in history")

// Commit describes one recorded version.
type Commit struct {
	Hash      string    `json:"hash"`
	Version   int64     `json:"version"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitVersion records doc as version of documentID, creating the
// repository on first use. The commit is tagged v<version>.
func (s *Service) CommitVersion(documentID string, version int64, doc newsdoc.Document, author string) (Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(documentID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), documentFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", documentFile, err)
	}
	if _, err := worktree.Add(documentFile); err != nil {
		return Commit{}, fmt.Errorf("git add document: %w", err)
	}

	if author == "" {
		author = "newsroom"
	}
	message := fmt.Sprintf("%s\n\n%s%d", commitSubject(doc, version), versionPrefix, version)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@newsroom.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit document: %w", err)
	}
	if _, err := repo.CreateTag(versionTag(version), hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, fmt.Errorf("tag version %d: %w", version, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists recorded versions, newest first.
func (s *Service) History(documentID string, limit int) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Commit{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// DocumentAt returns the document as recorded for version.
func (s *Service) DocumentAt(documentID string, version int64) (newsdoc.Document, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return newsdoc.Document{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Tag(versionTag(version))
	if err != nil {
		if errors.Is(err, git.ErrTagNotFound) {
			return newsdoc.Document{}, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
		}
		return newsdoc.Document{}, fmt.Errorf("resolve version tag: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return newsdoc.Document{}, fmt.Errorf("load commit object: %w", err)
	}
	return readDocument(commitObj)
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func readDocument(commitObj *object.Commit) (newsdoc.Document, error) {
	file, err := commitObj.File(documentFile)
	if err != nil {
		return newsdoc.Document{}, fmt.Errorf("load %s from commit: %w", documentFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return newsdoc.Document{}, fmt.Errorf("read document bytes: %w", err)
	}
	var doc newsdoc.Document
	if err := json.Unmarshal([]byte(contents), &doc); err != nil {
		return newsdoc.Document{}, fmt.Errorf("decode commit document: %w", err)
	}
	return doc, nil
}

func commitSubject(doc newsdoc.Document, version int64) string {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		return fmt.Sprintf("Version %d", version)
	}
	return fmt.Sprintf("Version %d: %s", version, title)
}

func versionTag(version int64) string {
	return "v" + strconv.FormatInt(version, 10)
}

func toCommit(commitObj *object.Commit) Commit {
	commit := Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.SplitN(commitObj.Message, "\n", 2)[0],
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	for _, line := range strings.Split(commitObj.Message, "\n") {
		if value, ok := strings.CutPrefix(line, versionPrefix); ok {
			commit.Version, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
	}
	return commit
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
