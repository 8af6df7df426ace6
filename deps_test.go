package sanityml

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanityml/sanityml/advisory"
)

func TestAuditRequirements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if strings.Contains(string(body), "bad-package") {
			w.Write([]byte(`{"vulns": [{"id": "PYSEC-2024-1", "summary": "arbitrary file write"}]}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	data := []byte("numpy==1.24.0\nbad-package==0.1.0\nscipy>=1.10\n")

	findings := AuditRequirements(context.Background(), advisory.NewClient(srv.URL), "requirements.txt", data)
	require.Len(t, findings, 1)
	assert.Equal(t, RuleVulnerableDependency, findings[0].RuleID)
	assert.Equal(t, 2, findings[0].Line)
	assert.Contains(t, findings[0].Evidence, "PYSEC-2024-1")
}
