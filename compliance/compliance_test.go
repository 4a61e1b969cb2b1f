package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleList = `
entries:
  - address: "0x1111111111111111111111111111111111111111"
    source: ofac
    reason: sanctioned entity
  - address: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
    source: custom
`

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestListGateBlocksListedPayer(t *testing.T) {
	g, err := NewListGate(writeList(t, sampleList), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, g.EntryCount())

	res, err := g.Screen(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		Context{Network: "base"})
	require.NoError(t, err)
	assert.Equal(t, Block, res.Decision)
	assert.Contains(t, res.Reason, "payer")
}

func TestListGateBlocksListedPayee(t *testing.T) {
	g, err := NewListGate(writeList(t, sampleList), nil)
	require.NoError(t, err)

	res, err := g.Screen(context.Background(),
		"0x3333333333333333333333333333333333333333",
		"0x1111111111111111111111111111111111111111",
		Context{})
	require.NoError(t, err)
	assert.Equal(t, Block, res.Decision)
	assert.Contains(t, res.Reason, "payee")
}

func TestListGateCaseInsensitive(t *testing.T) {
	g, err := NewListGate(writeList(t, sampleList), nil)
	require.NoError(t, err)

	res, err := g.Screen(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		Context{})
	require.NoError(t, err)
	assert.Equal(t, Block, res.Decision)

	res, err = g.Screen(context.Background(),
		"0X1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		Context{})
	require.NoError(t, err)
	assert.Equal(t, Block, res.Decision)
}

func TestListGateClearsUnlisted(t *testing.T) {
	g, err := NewListGate(writeList(t, sampleList), nil)
	require.NoError(t, err)

	res, err := g.Screen(context.Background(),
		"0x4444444444444444444444444444444444444444",
		"0x5555555555555555555555555555555555555555",
		Context{})
	require.NoError(t, err)
	assert.Equal(t, Clear, res.Decision)
}

func TestNewGateFailsClosed(t *testing.T) {
	gate := NewGate(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	_, denyAll := gate.(DenyAllGate)
	require.True(t, denyAll, "missing blocklist must yield a deny-all gate")

	res, err := gate.Screen(context.Background(), "0xaaa", "0xbbb", Context{})
	require.NoError(t, err)
	assert.Equal(t, Block, res.Decision)
}

func TestNewGateWithoutPathAllowsAll(t *testing.T) {
	gate := NewGate("", nil)
	res, err := gate.Screen(context.Background(), "0xaaa", "0xbbb", Context{})
	require.NoError(t, err)
	assert.Equal(t, Clear, res.Decision)
}

func TestMalformedListFailsInit(t *testing.T) {
	_, err := NewListGate(writeList(t, "entries: [{address: }"), nil)
	assert.Error(t, err)
}
