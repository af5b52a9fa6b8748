package universe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	input := `# tracked underlyings
symbol,conid
aapl,265598
MSFT,
 spy ,756733
AAPL,1
# trailing comment
QQQ
`
	u, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "SPY", "QQQ"}, u.Symbols())
	assert.Equal(t, int64(265598), u.Entries[0].ContractID, "first occurrence wins")
	assert.Equal(t, int64(0), u.Entries[1].ContractID)
	assert.Equal(t, int64(756733), u.Entries[2].ContractID)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("ticker\nAAPL\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("symbol,conid\nAAPL,abc\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BRK.B", NormalizeSymbol(" brk.b "))
	assert.Equal(t, "AAPL", NormalizeSymbol("aapl "))
}

func TestBackfillSavesOnlyWhenChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.csv")
	require.NoError(t, os.WriteFile(path, []byte("symbol,conid\nAAPL,\nMSFT,272093\n"), 0o644))

	changed, err := Backfill(path, map[string]int64{"AAPL": 265598})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "symbol,conid\nAAPL,265598\nMSFT,272093\n", string(data))

	changed, err = Backfill(path, map[string]int64{"AAPL": 1})
	require.NoError(t, err)
	assert.Zero(t, changed)
}
