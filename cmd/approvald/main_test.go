package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/approval-watcher/internal/model"
	"github.com/nhle/approval-watcher/internal/store"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestExtractFromStdin(t *testing.T) {
	out, err := runCommand(t, "id=REQ_9 approved=false", "extract")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "REQ_9", got.Event.RequestID)
	require.NotNil(t, got.Event.Approved)
	assert.False(t, *got.Event.Approved)
	assert.Equal(t, model.UnknownSender, got.Event.FromAddress)
	assert.False(t, got.Forwarded)
}

func TestExtractEML(t *testing.T) {
	eml := strings.Join([]string{
		"From: Boss <boss@example.com>",
		"Subject: Re: approval",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"id=42 approved=true",
		"",
	}, "\r\n")
	path := filepath.Join(t.TempDir(), "reply.eml")
	require.NoError(t, os.WriteFile(path, []byte(eml), 0o600))

	out, err := runCommand(t, "", "extract", "--eml", path)
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "42", got.Event.RequestID)
	assert.Equal(t, "boss@example.com", got.Event.FromAddress)
}

func TestExtractEmptyBody(t *testing.T) {
	out, err := runCommand(t, "  \n", "extract")
	require.NoError(t, err)
	assert.Contains(t, out, `"empty": true`)
}

func TestExtractMissingFile(t *testing.T) {
	_, err := runCommand(t, "", "extract", filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorContains(t, err, "reading")
}

func TestAuditWithoutJournal(t *testing.T) {
	_, err := runCommand(t, "", "audit")
	assert.ErrorContains(t, err, "no journal configured")
}

func TestAuditListsCalls(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	require.NoError(t, st.RecordCall(ctx, model.ExternalCall{
		ID: "c1", RequestID: "REQ-1", URL: "http://api", Method: "POST",
		Outcome: model.OutcomeOK, StatusCode: 200, StartedAt: started,
	}))
	require.NoError(t, st.RecordCall(ctx, model.ExternalCall{
		ID: "c2", RequestID: "REQ-2", URL: "http://api", Method: "POST",
		Outcome: model.OutcomeFailed, StatusCode: 500, Error: "workflow not found",
		StartedAt: started.Add(time.Second),
	}))
	require.NoError(t, st.Close())

	out, err := runCommand(t, "", "audit", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "REQ-1")
	assert.Contains(t, out, "workflow not found")

	out, err = runCommand(t, "", "audit", "--db", dbPath, "--request", "REQ-1")
	require.NoError(t, err)
	assert.Contains(t, out, "REQ-1")
	assert.NotContains(t, out, "REQ-2")
}

func TestLoadConfigStrict(t *testing.T) {
	t.Setenv("IMAP_HOST", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := loadConfig(path, true)
	assert.ErrorContains(t, err, "missing configuration")

	cfg, err := loadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
}
