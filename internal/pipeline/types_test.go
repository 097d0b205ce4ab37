package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeRecordWireFormat(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{
			name:    "json payload",
			outcome: Success("https://api.example.com", KindJSON, map[string]any{"a": json.Number("1")}),
			want:    `{"url":"https://api.example.com","content":{"type":"json","content":{"a":1}}}`,
		},
		{
			name:    "html payload",
			outcome: Success("https://example.com", KindHTML, HTMLContent{Title: "Example"}),
			want:    `{"url":"https://example.com","content":{"type":"html","content":{"title":"Example"}}}`,
		},
		{
			name:    "html empty title stays empty",
			outcome: Success("https://example.com/blank", KindHTML, HTMLContent{Title: ""}),
			want:    `{"url":"https://example.com/blank","content":{"type":"html","content":{"title":""}}}`,
		},
		{
			name:    "json null payload",
			outcome: Success("https://api.example.com/null", KindJSON, nil),
			want:    `{"url":"https://api.example.com/null","content":{"type":"json","content":null}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec, err := tc.outcome.Record()
			require.NoError(t, err)
			data, err := json.Marshal(rec)
			require.NoError(t, err)
			require.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestOutcomeRecordRejectsNonSuccess(t *testing.T) {
	t.Parallel()

	_, err := Skipped("https://example.com", "status code 404").Record()
	require.Error(t, err)

	_, err = Failed("https://example.com", errors.New("boom")).Record()
	require.Error(t, err)

	_, err = Outcome{Status: StatusSuccess, URL: "https://example.com", Kind: "xml"}.Record()
	require.ErrorContains(t, err, "unknown content kind")
}

func TestFailedWithNilError(t *testing.T) {
	t.Parallel()

	out := Failed("https://example.com", nil)
	require.Equal(t, StatusFailed, out.Status)
	require.Equal(t, "unknown error", out.Reason)
}
