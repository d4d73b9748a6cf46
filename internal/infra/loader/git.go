package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	giturls "github.com/whilp/git-urls"

	"github.com/jinford/hybrid-rag/internal/core/ingestion"
)

// MetadataKeyCommit は Git ソースのドキュメントに付与するコミットハッシュのキー
const MetadataKeyCommit = "commit"

// GitConfig は GitLoader の設定
type GitConfig struct {
	CloneDir    string // クローン先のベースディレクトリ
	Ref         string // ブランチ名。空ならリモートの HEAD
	SSHKeyPath  string
	SSHPassword string
}

// GitLoader は Git リポジトリをクローン（既存なら pull）して、作業ツリーのファイルを読み込みます
type GitLoader struct {
	url    string
	cfg    GitConfig
	opts   []FilesystemOption
	logger *slog.Logger
}

var _ ingestion.DocumentLoader = (*GitLoader)(nil)

// NewGitLoader は新しい GitLoader を作成します
// opts は作業ツリーを読み込む FilesystemLoader に渡されます
func NewGitLoader(url string, cfg GitConfig, logger *slog.Logger, opts ...FilesystemOption) *GitLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitLoader{url: url, cfg: cfg, opts: opts, logger: logger}
}

// SourceName は Git URL からソース名を生成します
// 例: git@github.com:user/repo.git -> github.com/user/repo
func SourceName(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	p := strings.Trim(u.Path, "/")
	p = strings.TrimSuffix(p, ".git")
	if p == "" {
		return "", fmt.Errorf("git URL has no repository path: %s", gitURL)
	}

	if hostname == "" {
		return p, nil
	}
	return hostname + "/" + p, nil
}

// Load はリポジトリを同期し、チェックアウトしたコミットのファイルを読み込みます
func (l *GitLoader) Load(ctx context.Context) ([]ingestion.Document, error) {
	name, err := SourceName(l.url)
	if err != nil {
		return nil, err
	}

	repoPath := filepath.Join(l.cfg.CloneDir, filepath.FromSlash(name))
	repo, err := l.cloneOrPull(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit := head.Hash().String()

	l.logger.Info("リポジトリを同期しました",
		"url", l.url,
		"path", repoPath,
		"commit", commit,
	)

	opts := append([]FilesystemOption{
		WithSourcePrefix(name),
		WithExtra(MetadataKeyCommit, commit),
		WithLoaderLogger(l.logger),
	}, l.opts...)

	return NewFilesystemLoader(repoPath, opts...).Load(ctx)
}

// cloneOrPull はリポジトリが存在しない場合はクローン、存在する場合は fetch してチェックアウトします
func (l *GitLoader) cloneOrPull(ctx context.Context, repoPath string) (*git.Repository, error) {
	auth, err := l.sshAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to setup SSH auth: %w", err)
	}

	if _, err := os.Stat(filepath.Join(repoPath, ".git")); os.IsNotExist(err) {
		opts := &git.CloneOptions{URL: l.url}
		if auth != nil {
			opts.Auth = auth
		}
		if l.cfg.Ref != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(l.cfg.Ref)
			opts.SingleBranch = true
		}

		repo, err := git.PlainCloneContext(ctx, repoPath, false, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to clone repository: %w", err)
		}
		return repo, nil
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return nil, fmt.Errorf("failed to get remote: %w", err)
	}

	fetchOpts := &git.FetchOptions{}
	if auth != nil {
		fetchOpts.Auth = auth
	}
	if err := remote.FetchContext(ctx, fetchOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	ref := l.cfg.Ref
	if ref == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		if !head.Name().IsBranch() {
			return nil, fmt.Errorf("HEAD of %s is detached, specify a branch", repoPath)
		}
		ref = head.Name().Short()
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve origin/%s: %w", ref, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	// ローカルブランチをリモートの位置に合わせる
	branch := plumbing.NewBranchReferenceName(ref)
	_, err = repo.Reference(branch, false)
	checkout := &git.CheckoutOptions{Branch: branch, Force: true}
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		checkout.Create = true
		checkout.Hash = remoteRef.Hash()
	}
	if err := worktree.Checkout(checkout); err != nil {
		return nil, fmt.Errorf("failed to checkout %s: %w", ref, err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return nil, fmt.Errorf("failed to reset %s: %w", ref, err)
	}

	return repo, nil
}

func (l *GitLoader) sshAuth() (*ssh.PublicKeys, error) {
	if l.cfg.SSHKeyPath == "" {
		return nil, nil
	}

	if _, err := os.Stat(l.cfg.SSHKeyPath); os.IsNotExist(err) {
		return nil, nil
	}

	auth, err := ssh.NewPublicKeysFromFile("git", l.cfg.SSHKeyPath, l.cfg.SSHPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return auth, nil
}
