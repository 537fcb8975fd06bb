package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body>
<table id="tor-tbl">
<tr class="tCenter hl-tr">
  <td class="t-title"><div class="t-title"><a data-topic_id="101" href="viewtopic.php?t=101">First entry</a></div></td>
  <td class="tor-size"><u>2048</u> 2 KB</td>
  <td><u>1500000000</u> 14-Jul-17</td>
</tr>
<tr class="tCenter hl-tr">
  <td class="t-title"><div class="t-title"><a data-topic_id="102" href="viewtopic.php?t=102"> Second entry </a></div></td>
  <td class="tor-size"><u>4096</u> 4 KB</td>
  <td><u>1500000060</u> 14-Jul-17</td>
</tr>
</table>
</body></html>`

func TestParseIndex(t *testing.T) {
	t.Parallel()

	entries, err := ParseIndex([]byte(indexPage))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, int64(101), entries[0].ID)
	require.Equal(t, "First entry", entries[0].Title)
	require.Equal(t, int64(2048), entries[0].Size)
	require.Equal(t, time.Unix(1500000000, 0).UTC(), entries[0].Timestamp)

	require.Equal(t, int64(102), entries[1].ID)
	require.Equal(t, "Second entry", entries[1].Title)
	require.Equal(t, time.UTC, entries[1].Timestamp.Location())
}

func TestParseIndexEmptyTable(t *testing.T) {
	t.Parallel()

	entries, err := ParseIndex([]byte(`<html><body><table id="tor-tbl"></table></body></html>`))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseIndexMalformedRowFailsPage(t *testing.T) {
	t.Parallel()

	page := `<table id="tor-tbl">
<tr class="tCenter hl-tr">
  <td class="t-title"><div class="t-title"><a data-topic_id="101">ok</a></div></td>
  <td class="tor-size"><u>1</u></td><td><u>10</u></td>
</tr>
<tr class="tCenter hl-tr">
  <td class="t-title"><div class="t-title"><a data-topic_id="102">broken</a></div></td>
  <td class="tor-size"><u>1</u></td><td><u>not-a-number</u></td>
</tr>
</table>`

	entries, err := ParseIndex([]byte(page))
	require.Nil(t, entries)

	var extractErr *ExtractError
	require.True(t, errors.As(err, &extractErr))
	require.Equal(t, SectionIndex, extractErr.Section)
	require.Equal(t, page, string(extractErr.Markup))
	require.Contains(t, err.Error(), "row 1")
}

func TestParseIndexMissingTopicID(t *testing.T) {
	t.Parallel()

	page := `<table id="tor-tbl"><tr class="tCenter hl-tr">
  <td class="t-title"><div class="t-title"><a>no id</a></div></td>
  <td class="tor-size"><u>1</u></td><td><u>10</u></td>
</tr></table>`

	_, err := ParseIndex([]byte(page))
	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Contains(t, extractErr.Error(), "data-topic_id")
}
