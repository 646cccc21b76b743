package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncapp "github.com/qbsync/backend/internal/application/sync"
	"github.com/qbsync/backend/internal/bootstrap"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"process", "watch", "token", "migrate", "version"}, names)

	token, _, err := root.Find([]string{"token", "url"})
	require.NoError(t, err)
	assert.Equal(t, "url", token.Name())
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"up", "down", "step", "goto", "force", "version", "drop", "create", "list"} {
		cmd, _, err := root.Find([]string{"migrate", name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestMigrateCmd_List(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "list"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "000001")
}

func TestMigrateCmd_CreateNeedsPath(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "create", "add_realm"})

	assert.ErrorContains(t, root.Execute(), "--path")
}

func TestMigrateCmd_DropNeedsConfirm(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "drop"})

	assert.ErrorContains(t, root.Execute(), "--confirm")
}

func TestProcessCmd_RejectsExtraArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"process", "a.csv", "b.csv"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "qbsync "+bootstrap.Version+"\n", out.String())
}

func sampleResults() []*syncapp.Result {
	return []*syncapp.Result{
		{Success: true, FileName: "a.csv", Posted: 2},
		{
			Success:  false,
			FileName: "b.csv",
			Failed:   1,
			Transactions: []syncapp.TransactionResult{
				{InvoiceNo: "INV-9", Kind: "invoice", Outcome: syncapp.OutcomeFailed, Error: "customer not found"},
			},
		},
	}
}

func TestWriteResults_Text(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeResults(&out, sampleResults(), false))

	text := out.String()
	assert.Contains(t, text, "OK  a.csv  posted=2 skipped=0 failed=0")
	assert.Contains(t, text, "FAILED  b.csv  posted=0 skipped=0 failed=1")
	assert.Contains(t, text, "invoice INV-9: customer not found")
}

func TestWriteResults_JSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeResults(&out, sampleResults(), true))

	var decoded []syncapp.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "b.csv", decoded[1].FileName)
}

func TestFailedResults(t *testing.T) {
	assert.NoError(t, failedResults(nil))
	assert.NoError(t, failedResults(sampleResults()[:1]))
	assert.EqualError(t, failedResults(sampleResults()), "1 of 2 files failed")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(none)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "****wxyz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, ts.Local().Format(time.RFC3339), formatTime(ts))
}
