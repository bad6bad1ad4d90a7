package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("ID", "User", "Transport")

	assert.Equal(t, []string{"ID", "User", "Transport"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("1", "admin", "ssh")
	table.AddRow("2", "operator", "ssh")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "admin", "ssh"}, rows[0])
	assert.Equal(t, []string{"2", "operator", "ssh"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Session", "Framing")
	table.AddRow("1", "chunked")
	table.AddRow("2", "end-of-message")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "FRAMING")
	assert.Contains(t, out, "chunked")
	assert.Contains(t, out, "end-of-message")
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{
		{"State", "START"},
		{"Queue depth", "3"},
	}))

	out := buf.String()
	assert.Contains(t, out, "State")
	assert.Contains(t, out, "START")
	assert.Contains(t, out, "Queue depth")
	assert.Contains(t, out, "3")
}
