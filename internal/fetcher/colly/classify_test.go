package collyfetcher

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	const url = "https://example.com"
	testCases := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantStatus  pipeline.Status
		wantPayload any
		wantReason  string
	}{
		{
			name:        "json object",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"a":1}`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: map[string]any{"a": json.Number("1")},
		},
		{
			name:        "json keeps large integers",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `[12345678901234567890]`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: []any{json.Number("12345678901234567890")},
		},
		{
			name:        "json vendor media type",
			status:      http.StatusOK,
			contentType: "application/json; charset=UTF-8",
			body:        `"text"`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: "text",
		},
		{
			name:        "blank json body",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        "  \n",
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: nil,
		},
		{
			name:        "truncated json",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"a":`,
			wantStatus:  pipeline.StatusFailed,
		},
		{
			name:        "json with trailing data",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"a":1} {"b":2}`,
			wantStatus:  pipeline.StatusFailed,
			wantReason:  "decode json: unexpected data after top-level value",
		},
		{
			name:        "html title",
			status:      http.StatusOK,
			contentType: "text/html; charset=utf-8",
			body:        `<html><head><title>Example</title></head></html>`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: pipeline.HTMLContent{Title: "Example"},
		},
		{
			name:        "html first title wins",
			status:      http.StatusOK,
			contentType: "text/html",
			body:        `<title>First</title><title>Second</title>`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: pipeline.HTMLContent{Title: "First"},
		},
		{
			name:        "html entities decoded",
			status:      http.StatusOK,
			contentType: "TEXT/HTML",
			body:        `<title>Tom &amp; Jerry</title>`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: pipeline.HTMLContent{Title: "Tom & Jerry"},
		},
		{
			name:        "html without title",
			status:      http.StatusOK,
			contentType: "text/html",
			body:        `<html><body>no head</body></html>`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: pipeline.HTMLContent{Title: pipeline.NoTitle},
		},
		{
			name:        "html empty title",
			status:      http.StatusOK,
			contentType: "text/html",
			body:        `<title></title>`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: pipeline.HTMLContent{Title: ""},
		},
		{
			name:        "html empty title in head",
			status:      http.StatusOK,
			contentType: "text/html; charset=utf-8",
			body:        `<html><head><title></title></head><body><h1>x</h1></body></html>`,
			wantStatus:  pipeline.StatusSuccess,
			wantPayload: pipeline.HTMLContent{Title: ""},
		},
		{
			name:        "not found",
			status:      http.StatusNotFound,
			contentType: "application/json",
			body:        `{}`,
			wantStatus:  pipeline.StatusSkipped,
			wantReason:  "status code 404",
		},
		{
			name:        "created is not ok",
			status:      http.StatusCreated,
			contentType: "application/json",
			body:        `{}`,
			wantStatus:  pipeline.StatusSkipped,
			wantReason:  "status code 201",
		},
		{
			name:        "unsupported content type",
			status:      http.StatusOK,
			contentType: "image/png",
			body:        "\x89PNG",
			wantStatus:  pipeline.StatusSkipped,
			wantReason:  `unsupported content type "image/png"`,
		},
		{
			name:        "missing content type",
			status:      http.StatusOK,
			body:        "{}",
			wantStatus:  pipeline.StatusSkipped,
			wantReason:  `unsupported content type ""`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := Classify(url, tc.status, tc.contentType, []byte(tc.body))
			require.Equal(t, tc.wantStatus, out.Status, out.Reason)
			require.Equal(t, url, out.URL)
			require.Equal(t, tc.status, out.StatusCode)
			if tc.wantStatus == pipeline.StatusSuccess {
				require.Equal(t, tc.wantPayload, out.Payload)
			}
			if tc.wantReason != "" {
				require.Equal(t, tc.wantReason, out.Reason)
			}
		})
	}
}
