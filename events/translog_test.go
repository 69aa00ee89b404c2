package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestTransactionLogAppendsJSONLines(t *testing.T) {
	b := newTestBus(t)
	file := filepath.Join(t.TempDir(), "transactions.log")

	tl := NewTransactionLog(TransactionLogConfig{File: file, MaxSizeMB: 1}, b)
	defer tl.Close()

	b.EmitTransaction(Transaction{
		Action:   "checkout",
		BranchID: "main",
		Request:  map[string]any{"patronBarcode": "MASKED_0011223344556677"},
	})
	b.EmitTransaction(Transaction{Action: "checkin", BranchID: "east"})

	waitUntil(t, "two log lines", func() bool { return len(readLines(t, file)) == 2 })

	lines := readLines(t, file)
	var first, second Transaction
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "checkout", first.Action)
	assert.Equal(t, "main", first.BranchID)
	assert.NotEmpty(t, first.ID)
	req := first.Request.(map[string]any)
	assert.Equal(t, "MASKED_0011223344556677", req["patronBarcode"])

	assert.Equal(t, "checkin", second.Action)
	assert.Equal(t, "east", second.BranchID)
}

func TestTransactionLogCloseDetaches(t *testing.T) {
	b := newTestBus(t)
	file := filepath.Join(t.TempDir(), "transactions.log")

	tl := NewTransactionLog(TransactionLogConfig{File: file, MaxSizeMB: 1}, b)

	b.EmitTransaction(Transaction{Action: "checkout", BranchID: "main"})
	waitUntil(t, "first log line", func() bool { return len(readLines(t, file)) == 1 })

	require.NoError(t, tl.Close())
	b.EmitTransaction(Transaction{Action: "checkin", BranchID: "main"})

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, readLines(t, file), 1)
}
