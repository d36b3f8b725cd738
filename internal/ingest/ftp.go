package ingest

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPConfig describes one bank's FTP drop.
type FTPConfig struct {
	Host     string // host:port
	User     string
	Password string
	Dir      string
}

// ftpSource mirrors a bank's FTP drop directory into the local attachment
// directory. Files already present locally are skipped, so repeated pulls
// for the same date stay cheap and never clobber a downloaded statement.
type ftpSource struct {
	cfg    FTPConfig
	logger *zap.Logger
}

func NewFTPSource(cfg FTPConfig, logger *zap.Logger) Source {
	return &ftpSource{cfg: cfg, logger: logger}
}

func (s *ftpSource) Fetch(ctx context.Context, date time.Time, destDir string) error {
	conn, err := ftp.Dial(s.cfg.Host,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(30*time.Second),
	)
	if err != nil {
		return eris.Wrapf(err, "ftp: dial %s", s.cfg.Host)
	}
	defer conn.Quit()

	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		return eris.Wrapf(err, "ftp: login %s", s.cfg.Host)
	}

	entries, err := conn.List(s.cfg.Dir)
	if err != nil {
		return eris.Wrapf(err, "ftp: list %s", s.cfg.Dir)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "ftp: cancelled")
		}
		if entry.Type != ftp.EntryTypeFile {
			continue
		}

		local := filepath.Join(destDir, entry.Name)
		if _, err := os.Stat(local); err == nil {
			continue
		}

		if err := s.download(conn, path.Join(s.cfg.Dir, entry.Name), local); err != nil {
			s.logger.Warn("ftp download failed",
				zap.String("host", s.cfg.Host),
				zap.String("file", entry.Name),
				zap.Error(err))
			continue
		}
		s.logger.Info("ftp file saved",
			zap.String("host", s.cfg.Host),
			zap.String("file", entry.Name))
	}
	return nil
}

func (s *ftpSource) download(conn *ftp.ServerConn, remote, local string) error {
	resp, err := conn.Retr(remote)
	if err != nil {
		return eris.Wrapf(err, "ftp: retr %s", remote)
	}
	defer resp.Close()

	tmp := local + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "ftp: create %s", tmp)
	}
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		os.Remove(tmp)
		return eris.Wrapf(err, "ftp: copy %s", remote)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "ftp: close %s", tmp)
	}
	return os.Rename(tmp, local)
}
