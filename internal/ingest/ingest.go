// Package ingest pulls statement attachments from the remote sources (the
// operations mailboxes and per-bank FTP drops) into the local per-bank
// attachment directories, and leaves an audit workbook of how each mail was
// bucketed.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/classify"
	"github.com/heroics-capital/treasury-recon/internal/mail"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Source pulls statement files for a date into a destination directory.
// FTP drops implement this; the mail sweep is built in.
type Source interface {
	Fetch(ctx context.Context, date time.Time, destDir string) error
}

// Service sweeps the configured mailboxes, buckets mail by counterparty, and
// lands attachments under <attachmentsDir>/<bank>/. It satisfies the
// resolver's Ingestor contract.
type Service struct {
	mail           mail.Client
	mailboxes      []string
	rules          classify.Ruleset
	sources        map[recon.Bank]Source
	attachmentsDir string
	logger         *zap.Logger
}

func NewService(mailClient mail.Client, mailboxes []string, rules classify.Ruleset, sources map[recon.Bank]Source, attachmentsDir string, logger *zap.Logger) *Service {
	return &Service{
		mail:           mailClient,
		mailboxes:      mailboxes,
		rules:          rules,
		sources:        sources,
		attachmentsDir: attachmentsDir,
		logger:         logger,
	}
}

// BankDir is the attachment directory for one counterparty.
func (s *Service) BankDir(bank recon.Bank) string {
	return filepath.Join(s.attachmentsDir, string(bank))
}

// IngestDate runs one full pull for a date: mail sweep, classification,
// attachment download, audit dump, then the FTP drops. Individual source
// failures are collected so one dead mailbox cannot mask the rest; the
// returned error summarizes whatever went wrong.
func (s *Service) IngestDate(ctx context.Context, date time.Time) error {
	date = recon.Date(date)
	log := s.logger.With(zap.String("date", recon.FormatDate(date)))

	var failures []string

	messages, mailErrs := s.sweepMail(ctx, date, log)
	failures = append(failures, mailErrs...)

	buckets := classify.Classify(messages, s.rules)
	s.logBuckets(log, buckets)

	failures = append(failures, s.downloadBuckets(ctx, buckets, log)...)

	if err := s.writeAuditDump(date, buckets); err != nil {
		log.Warn("classification dump failed", zap.Error(err))
	}

	for bank, source := range s.sources {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "ingest: cancelled")
		}
		destDir := s.BankDir(bank)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return eris.Wrapf(err, "ingest: create %s", destDir)
		}
		if err := source.Fetch(ctx, date, destDir); err != nil {
			log.Warn("ftp source failed", zap.String("bank", string(bank)), zap.Error(err))
			failures = append(failures, fmt.Sprintf("ftp %s: %v", bank, err))
		}
	}

	if len(failures) > 0 {
		return eris.Errorf("ingest: %d source(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *Service) sweepMail(ctx context.Context, date time.Time, log *zap.Logger) ([]mail.Message, []string) {
	var (
		messages []mail.Message
		failures []string
	)
	for _, mailbox := range s.mailboxes {
		msgs, err := s.mail.FetchInbox(ctx, mailbox, date)
		if err != nil {
			log.Warn("mailbox sweep failed", zap.String("mailbox", mailbox), zap.Error(err))
			failures = append(failures, fmt.Sprintf("mailbox %s: %v", mailbox, err))
			continue
		}
		log.Debug("mailbox swept", zap.String("mailbox", mailbox), zap.Int("messages", len(msgs)))
		messages = append(messages, msgs...)
	}
	return messages, failures
}

func (s *Service) downloadBuckets(ctx context.Context, buckets classify.Result, log *zap.Logger) []string {
	var failures []string
	for bucket, msgs := range buckets {
		if bucket == classify.Unmatched {
			continue
		}
		bank, err := recon.ParseBank(bucket)
		if err != nil {
			// compile already validated bucket names; an unknown one here
			// is a programming error worth surfacing loudly.
			failures = append(failures, fmt.Sprintf("bucket %s: %v", bucket, err))
			continue
		}

		destDir := s.BankDir(bank)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			failures = append(failures, fmt.Sprintf("bucket %s: %v", bucket, err))
			continue
		}

		for _, msg := range msgs {
			saved, err := s.mail.DownloadAttachments(ctx, msg.Mailbox, msg.ID, destDir)
			if err != nil {
				log.Warn("attachment download failed",
					zap.String("bank", string(bank)),
					zap.String("subject", msg.Subject),
					zap.Error(err))
				failures = append(failures, fmt.Sprintf("message %q: %v", msg.Subject, err))
				continue
			}
			log.Info("attachments saved",
				zap.String("bank", string(bank)),
				zap.String("subject", msg.Subject),
				zap.Int("files", len(saved)))
		}
	}
	return failures
}

func (s *Service) logBuckets(log *zap.Logger, buckets classify.Result) {
	for bucket, msgs := range buckets {
		log.Debug("bucket", zap.String("name", bucket), zap.Int("messages", len(msgs)))
	}
}

// writeAuditDump records the classification of every swept mail in a
// workbook, one sheet per bucket, so a misrouted statement can be traced
// after the fact.
func (s *Service) writeAuditDump(date time.Time, buckets classify.Result) error {
	if len(buckets) == 0 {
		return nil
	}
	dir := filepath.Join(s.attachmentsDir, "classification")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "ingest: create dump dir")
	}

	f := xlsx.NewFile()

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sheet, err := f.AddSheet(name)
		if err != nil {
			return eris.Wrapf(err, "ingest: dump sheet %s", name)
		}
		header := sheet.AddRow()
		for _, h := range []string{"Received", "Mailbox", "From", "Subject", "Attachments"} {
			header.AddCell().SetString(h)
		}
		for _, msg := range buckets[name] {
			row := sheet.AddRow()
			row.AddCell().SetString(msg.ReceivedAt.UTC().Format(time.RFC3339))
			row.AddCell().SetString(msg.Mailbox)
			row.AddCell().SetString(msg.From)
			row.AddCell().SetString(msg.Subject)
			row.AddCell().SetString(strings.Join(msg.AttachmentNames, ", "))
		}
	}

	path := filepath.Join(dir, recon.FormatDate(date)+".xlsx")
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "ingest: save dump %s", path)
	}
	return nil
}
