package rowcodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
)

func TestHeader_FirstSeenUnion(t *testing.T) {
	records := []domain.Record{
		{"Name": "Acme", "Id": "001"},
		{"Phone": "555", "Name": "Globex"},
		{"Email": "x@y.z"},
	}
	assert.Equal(t, []string{"Id", "Name", "Phone", "Email"}, rowcodec.Header(records))
}

func TestEncode_QuotingAndMissingKeys(t *testing.T) {
	records := []domain.Record{
		{"Name": "Acme, Inc.", "Notes": `said "hi"`},
		{"Name": "Multi\nLine"},
	}
	payload, header, err := rowcodec.Encode(records)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Notes"}, header)
	assert.Equal(t, "Name,Notes\n\"Acme, Inc.\",\"said \"\"hi\"\"\"\n\"Multi\nLine\",\n", string(payload))
}

func TestEncode_ValueFormatting(t *testing.T) {
	records := []domain.Record{
		{"Amount": 12.5, "Count": 3, "Active": true, "Owner": nil},
	}
	payload, _, err := rowcodec.Encode(records, rowcodec.WithColumns("Active", "Amount", "Count", "Owner"))
	require.NoError(t, err)
	assert.Equal(t, "Active,Amount,Count,Owner\ntrue,12.5,3,#N/A\n", string(payload))
}

func TestEncode_ColumnsRejectUnknownFields(t *testing.T) {
	_, _, err := rowcodec.Encode([]domain.Record{{"Id": "001", "Name": "x"}}, rowcodec.WithColumns("Id"))
	require.Error(t, err)
}

func TestEncode_Empty(t *testing.T) {
	payload, header, err := rowcodec.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Empty(t, header)

	payload, _, err = rowcodec.Encode(nil, rowcodec.WithColumns("Id"))
	require.NoError(t, err)
	assert.Equal(t, "Id\n", string(payload))
}

// Test: decode(encode(records)) reproduces the records.
func TestRoundTrip(t *testing.T) {
	records := []domain.Record{
		{"Id": "001", "Name": "Acme, Inc.", "Description": "line one\nline two"},
		{"Id": "002", "Name": `Quote "Co"`, "Description": ""},
		{"Id": "003", "Name": " padded ", "Description": nil},
	}
	for _, d := range []rowcodec.Delimiter{rowcodec.Comma, rowcodec.Tab, rowcodec.Pipe, rowcodec.Semicolon} {
		payload, header, err := rowcodec.Encode(records, rowcodec.WithDelimiter(d))
		require.NoError(t, err)

		table, err := rowcodec.Decode(payload, rowcodec.WithDelimiter(d))
		require.NoError(t, err)
		assert.Equal(t, header, table.Header)
		assert.Equal(t, records, table.Rows, "delimiter %s", d.Name())
	}
}

func TestRoundTrip_WithSchema(t *testing.T) {
	records := []domain.Record{
		{"Name": "a", "Employees": 10, "Revenue": 1.5, "Active": true},
		{"Name": "b", "Employees": 0, "Revenue": 0.25, "Active": false},
	}
	payload, _, err := rowcodec.Encode(records)
	require.NoError(t, err)

	schema := rowcodec.Schema{"Employees": rowcodec.Int, "Revenue": rowcodec.Float, "Active": rowcodec.Bool}
	table, err := rowcodec.Decode(payload, rowcodec.WithSchema(schema))
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, int64(10), table.Rows[0]["Employees"])
	assert.Equal(t, 0.25, table.Rows[1]["Revenue"])
	assert.Equal(t, false, table.Rows[1]["Active"])
}

// Test: blank rows in a single-column payload survive, including trailing ones.
func TestDecode_SingleColumnBlankRows(t *testing.T) {
	records := []domain.Record{{"Id": "001"}, {"Id": ""}, {"Id": ""}}
	payload, _, err := rowcodec.Encode(records)
	require.NoError(t, err)
	assert.Equal(t, "Id\n001\n\n\n", string(payload))

	table, err := rowcodec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, records, table.Rows)
}

func TestDecode_BlankLineInMultiColumnIsError(t *testing.T) {
	_, err := rowcodec.Decode([]byte("Id,Name\n001,a\n\n002,b\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestDecode_CRLFAndNoTrailingNewline(t *testing.T) {
	table, err := rowcodec.Decode([]byte("Id,Name\r\n001,a\r\n002,b"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Record{{"Id": "001", "Name": "a"}, {"Id": "002", "Name": "b"}}, table.Rows)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"unterminated":  "Id\n\"abc\n",
		"junk after":    "Id,Name\n\"a\"x,b\n",
		"duplicate col": "Id,Id\n1,2\n",
		"field count":   "Id,Name\n1\n",
		"bad coercion":  "Count\nabc\n",
		"blank header":  "\n1\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := rowcodec.Decode([]byte(payload), rowcodec.WithSchema(rowcodec.Schema{"Count": rowcodec.Int}))
			assert.Error(t, err)
		})
	}
}

func TestDecode_EmptyPayload(t *testing.T) {
	table, err := rowcodec.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, table.Header)
	assert.Empty(t, table.Rows)
}

func TestDecode_HeaderOnly(t *testing.T) {
	table, err := rowcodec.Decode([]byte("\xef\xbb\xbfId,Name\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Name"}, table.Header)
	assert.Empty(t, table.Rows)
}

func TestParseDelimiter(t *testing.T) {
	d, err := rowcodec.ParseDelimiter("PIPE")
	require.NoError(t, err)
	assert.Equal(t, rowcodec.Pipe, d)

	_, err = rowcodec.ParseDelimiter("SPACE")
	assert.Error(t, err)
}
