package generator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

var (
	_ interfaces.Generator = (*HTTPGenerator)(nil)
	_ interfaces.Retriever = (*StaticRetriever)(nil)
)

func TestHTTPGenerator_PostsAndDecodes(t *testing.T) {
	var received types.Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		_, _ = w.Write([]byte("```json\n{\"uvVis\":{\"peaks\":[]},\"ir\":{\"peaks\":[]}}\n```"))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	doc, err := g.Generate(context.Background(), types.Document{"compound": "water"})
	require.NoError(t, err)

	assert.Equal(t, "water", received["compound"])
	assert.Contains(t, doc, "uvVis")
	assert.Contains(t, doc, "ir")
}

func TestHTTPGenerator_UpstreamErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	body := `{}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	g := NewHTTPGenerator(srv.URL)

	_, err := g.Generate(context.Background(), types.Document{})
	assert.ErrorIs(t, err, ErrUpstreamStatus)

	status, body = http.StatusOK, "I cannot answer that"
	_, err = g.Generate(context.Background(), types.Document{})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = NewHTTPGenerator("").Generate(context.Background(), types.Document{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestHTTPGenerator_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewHTTPGenerator(srv.URL).Generate(ctx, types.Document{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeDocument(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantErr bool
	}{
		{"plain object", `{"ir":{}}`, "ir", false},
		{"json fence", "```json\n{\"ir\":{}}\n```", "ir", false},
		{"bare fence", "```{\"ir\":{}}```", "ir", false},
		{"text wrapper", `{"text":"` + "```json {\\\"ir\\\":{}} ```" + `"}`, "ir", false},
		{"array", `[1,2]`, "", true},
		{"null", `null`, "", true},
		{"prose", `here you go`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := DecodeDocument([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, doc, tt.wantKey)
		})
	}
}

func TestStaticRetriever(t *testing.T) {
	r := NewStaticRetriever(
		"Water absorbs strongly near 3400 cm-1 in IR",
		"Benzene shows a UV band at 254 nm",
		"Water and ethanol form an azeotrope",
	)
	ctx := context.Background()

	got, err := r.RetrieveContext(ctx, "water IR", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "3400")

	got, err = r.RetrieveContext(ctx, "water", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = NewStaticRetriever().RetrieveContext(ctx, "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
