package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const signupPage = `<!DOCTYPE html>
<html><body>
<form id="signup">
  <input type="text" name="username" required>
  <input type="email" name="email" required>
  <input type="tel" name="phone">
  <input type="number" name="age">
  <input type="hidden" name="csrf_token" value="abc">
  <input type="submit" value="Sign up">
  <select name="country"><option>US</option></select>
  <textarea name="bio"></textarea>
</form>
<form>
  <input type="submit" value="no named fields">
</form>
</body></html>`

func parseHTML(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestExtractForms(t *testing.T) {
	entities := extractForms(parseHTML(t, signupPage))

	require.Len(t, entities, 1, "form without named fields must be dropped")
	entity := entities[0]
	assert.Equal(t, "signup", entity.Name)

	byName := make(map[string]FieldSpec)
	for _, f := range entity.Fields {
		byName[f.Name] = f
	}

	require.Contains(t, byName, "username")
	require.Contains(t, byName, "email")
	require.Contains(t, byName, "phone")
	require.Contains(t, byName, "age")
	require.Contains(t, byName, "country")
	require.Contains(t, byName, "bio")
	assert.NotContains(t, byName, "csrf_token")

	assert.Equal(t, "email", byName["email"].Type)
	assert.Equal(t, "phone", byName["phone"].Type)
	assert.Equal(t, "number", byName["age"].Type)
	assert.True(t, byName["username"].Required)
	assert.False(t, byName["phone"].Required)
}

func TestExtractForms_UnnamedFormGetsIndexName(t *testing.T) {
	entities := extractForms(parseHTML(t, `<form><input type="text" name="q"></form>`))
	require.Len(t, entities, 1)
	assert.Equal(t, "form_1", entities[0].Name)
}

func TestHTTPCrawler_Crawl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(signupPage))
	}))
	defer srv.Close()

	crawler := NewHTTPCrawler(zap.NewNop())
	fragment, err := crawler.Crawl(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	assert.Equal(t, FragmentSourceUI, fragment.Source)
	require.Len(t, fragment.Entities, 1)
	assert.Equal(t, "signup", fragment.Entities[0].Name)
}

func TestHTTPCrawler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	crawler := NewHTTPCrawler(zap.NewNop())
	_, err := crawler.Crawl(context.Background(), []string{srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPCrawler_NoForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><h1>Landing page</h1></body></html>"))
	}))
	defer srv.Close()

	crawler := NewHTTPCrawler(zap.NewNop())
	_, err := crawler.Crawl(context.Background(), []string{srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no form fields")
}

func TestDomainPackFragment(t *testing.T) {
	ecommerce := domainPackFragment("Ecommerce")
	require.Len(t, ecommerce.Entities, 2)
	assert.Equal(t, "customer", ecommerce.Entities[0].Name)
	assert.Equal(t, "order", ecommerce.Entities[1].Name)

	banking := domainPackFragment("banking")
	assert.Equal(t, "account", banking.Entities[0].Name)

	unknown := domainPackFragment("logistics")
	require.Len(t, unknown.Entities, 1)
	assert.Equal(t, "test_entity", unknown.Entities[0].Name)
	assert.Equal(t, FragmentSourceDomain, unknown.Source)
}
