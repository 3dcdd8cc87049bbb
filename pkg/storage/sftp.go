package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ekaya-inc/substation-labeler/pkg/config"
)

// SFTPBucket stores objects on a remote host over SFTP under base_path/bucket.
// A web server in front of that directory serves PublicBaseURL.
type SFTPBucket struct {
	cfg       config.SFTPConfig
	bucket    string
	baseURL   string
	sshConfig *ssh.ClientConfig
	logger    *zap.Logger
}

// NewSFTPBucket validates credentials up front; connections are opened per Put.
func NewSFTPBucket(cfg *config.SFTPConfig, bucket, baseURL string, logger *zap.Logger) (*SFTPBucket, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sftp: host is required")
	}

	sshConfig := &ssh.ClientConfig{
		User:    cfg.User,
		Timeout: cfg.Timeout,
	}

	switch {
	case cfg.KeyFile != "":
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case cfg.Password != "":
		sshConfig.Auth = []ssh.AuthMethod{ssh.Password(cfg.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}

	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known_hosts: %w", err)
		}
		sshConfig.HostKeyCallback = callback
	} else {
		logger.Warn("SFTP host key verification disabled; set sftp.known_hosts_file to enable it",
			zap.String("host", cfg.Host))
		sshConfig.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &SFTPBucket{
		cfg:       *cfg,
		bucket:    bucket,
		baseURL:   baseURL,
		sshConfig: sshConfig,
		logger:    logger,
	}, nil
}

type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *sftpSession) Close() {
	_ = s.sftp.Close()
	_ = s.ssh.Close()
}

func (b *SFTPBucket) connect(ctx context.Context) (*sftpSession, error) {
	type result struct {
		session *sftpSession
		err     error
	}
	done := make(chan result, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
		sshConn, err := ssh.Dial("tcp", addr, b.sshConfig)
		if err != nil {
			done <- result{err: fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			done <- result{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		done <- result{session: &sftpSession{ssh: sshConn, sftp: client}}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.session != nil {
				r.session.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.session, r.err
	}
}

func (b *SFTPBucket) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	session, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	dst := path.Join(strings.TrimRight(b.cfg.BasePath, "/"), b.bucket, key)
	if err := session.sftp.MkdirAll(path.Dir(dst)); err != nil {
		return fmt.Errorf("sftp: failed to create directory: %w", err)
	}

	tmp := dst + ".part"
	f, err := session.sftp.Create(tmp)
	if err != nil {
		return fmt.Errorf("sftp: failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = session.sftp.Remove(tmp)
		return fmt.Errorf("sftp: failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = session.sftp.Remove(tmp)
		return fmt.Errorf("sftp: failed to close file: %w", err)
	}
	if err := session.sftp.PosixRename(tmp, dst); err != nil {
		_ = session.sftp.Remove(tmp)
		return fmt.Errorf("sftp: failed to move file into place: %w", err)
	}

	b.logger.Debug("Stored object over SFTP", zap.String("host", b.cfg.Host), zap.String("path", dst))
	return nil
}

func (b *SFTPBucket) PublicURL(key string) string {
	return publicURL(b.baseURL, b.bucket, key)
}

func (b *SFTPBucket) Name() string {
	return b.bucket
}

var _ Bucket = (*SFTPBucket)(nil)
