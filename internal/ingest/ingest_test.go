package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/classify"
	"github.com/heroics-capital/treasury-recon/internal/mail"
	"github.com/heroics-capital/treasury-recon/internal/recon"
)

type fakeMail struct {
	inboxes    map[string][]mail.Message
	inboxErr   map[string]error
	downloaded []string // "mailbox/messageID"
}

func (f *fakeMail) FetchInbox(_ context.Context, mailbox string, _ time.Time) ([]mail.Message, error) {
	if err := f.inboxErr[mailbox]; err != nil {
		return nil, err
	}
	return f.inboxes[mailbox], nil
}

func (f *fakeMail) DownloadAttachments(_ context.Context, mailbox, messageID, destDir string) ([]string, error) {
	f.downloaded = append(f.downloaded, mailbox+"/"+messageID)
	name := filepath.Join(destDir, messageID+".csv")
	if err := os.WriteFile(name, []byte("data"), 0o644); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

type fakeSource struct {
	calls []string
	err   error
}

func (f *fakeSource) Fetch(_ context.Context, date time.Time, destDir string) error {
	f.calls = append(f.calls, destDir)
	return f.err
}

func gsRules(t *testing.T) classify.Ruleset {
	t.Helper()
	rules, err := classify.Compile(map[string]classify.RuleSpec{
		"GS": {Addresses: []string{"reports@gs.com"}},
	})
	require.NoError(t, err)
	return rules
}

func message(id, from string) mail.Message {
	return mail.Message{
		ID:             id,
		Subject:        "Daily statement",
		From:           from,
		ReceivedAt:     time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC),
		HasAttachments: true,
		Mailbox:        "ops@heroics.com",
		AttachmentNames: []string{
			"HV_cash_20250110.csv",
		},
	}
}

func TestIngestDateDownloadsMatchedBuckets(t *testing.T) {
	dir := t.TempDir()
	mc := &fakeMail{inboxes: map[string][]mail.Message{
		"ops@heroics.com": {
			message("m1", "reports@gs.com"),
			message("m2", "noreply@unknown.example"),
		},
	}}

	svc := NewService(mc, []string{"ops@heroics.com"}, gsRules(t), nil, dir, zap.NewNop())
	err := svc.IngestDate(context.Background(), time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Only the matched message is downloaded, into the bank's directory.
	assert.Equal(t, []string{"ops@heroics.com/m1"}, mc.downloaded)
	assert.FileExists(t, filepath.Join(dir, "GS", "m1.csv"))
}

func TestIngestDateWritesAuditDump(t *testing.T) {
	dir := t.TempDir()
	mc := &fakeMail{inboxes: map[string][]mail.Message{
		"ops@heroics.com": {message("m1", "reports@gs.com")},
	}}

	svc := NewService(mc, []string{"ops@heroics.com"}, gsRules(t), nil, dir, zap.NewNop())
	require.NoError(t, svc.IngestDate(context.Background(), time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))

	dump := filepath.Join(dir, "classification", "2025-01-10.xlsx")
	require.FileExists(t, dump)

	f, err := xlsx.OpenFile(dump)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Equal(t, "GS", f.Sheets[0].Name)
	require.GreaterOrEqual(t, len(f.Sheets[0].Rows), 2)
	assert.Equal(t, "Daily statement", f.Sheets[0].Rows[1].Cells[3].String())
}

func TestIngestDateMailboxFailureIsCollected(t *testing.T) {
	dir := t.TempDir()
	mc := &fakeMail{
		inboxes: map[string][]mail.Message{
			"ops@heroics.com": {message("m1", "reports@gs.com")},
		},
		inboxErr: map[string]error{
			"backup@heroics.com": eris.New("mailbox unreachable"),
		},
	}

	svc := NewService(mc, []string{"ops@heroics.com", "backup@heroics.com"}, gsRules(t), nil, dir, zap.NewNop())
	err := svc.IngestDate(context.Background(), time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	// The healthy mailbox is still processed.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup@heroics.com")
	assert.Equal(t, []string{"ops@heroics.com/m1"}, mc.downloaded)
}

func TestIngestDateRunsSources(t *testing.T) {
	dir := t.TempDir()
	mc := &fakeMail{}
	src := &fakeSource{}

	svc := NewService(mc, nil, gsRules(t), map[recon.Bank]Source{recon.BankUBS: src}, dir, zap.NewNop())
	require.NoError(t, svc.IngestDate(context.Background(), time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))

	require.Len(t, src.calls, 1)
	assert.Equal(t, filepath.Join(dir, "UBS"), src.calls[0])
}

func TestIngestDateSourceFailureIsCollected(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{err: eris.New("connection refused")}

	svc := NewService(&fakeMail{}, nil, gsRules(t), map[recon.Bank]Source{recon.BankUBS: src}, dir, zap.NewNop())
	err := svc.IngestDate(context.Background(), time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "UBS")
}
