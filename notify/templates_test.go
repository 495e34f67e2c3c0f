package notify

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTemplateName(t *testing.T) {
	valid := []string{"confirm-email.html", "plain.txt", "nested/code.template"}
	for _, name := range valid {
		assert.NoError(t, ValidateTemplateName(name), name)
	}

	invalid := []string{
		"",
		"../secrets.html",
		"nested/../../etc/passwd.html",
		"/etc/passwd.html",
		`..\windows.html`,
		"script.js",
		"noext",
		"./confirm-email.html",
	}
	for _, name := range invalid {
		err := ValidateTemplateName(name)
		assert.ErrorIs(t, err, ErrInvalidTemplateName, name)
	}
}

func TestTemplateCacheLoadsOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"hello.html": {Data: []byte(`<p>Hello {{.Name}}</p>`)},
	}
	cache, err := NewTemplateCache(fsys, 4)
	require.NoError(t, err)
	assert.Zero(t, cache.Len())

	first, err := cache.Get("hello.html")
	require.NoError(t, err)
	delete(fsys, "hello.html")
	second, err := cache.Get("hello.html")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestTemplateCacheEvicts(t *testing.T) {
	fsys := fstest.MapFS{
		"a.html": {Data: []byte("a")},
		"b.html": {Data: []byte("b")},
	}
	cache, err := NewTemplateCache(fsys, 1)
	require.NoError(t, err)

	_, err = cache.Get("a.html")
	require.NoError(t, err)
	_, err = cache.Get("b.html")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())
}

func TestTemplateCacheErrors(t *testing.T) {
	fsys := fstest.MapFS{
		"broken.html": {Data: []byte(`{{.Unclosed`)},
	}
	cache, err := NewTemplateCache(fsys, 4)
	require.NoError(t, err)

	_, err = cache.Get("missing.html")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = cache.Get("broken.html")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTemplateNotFound))

	_, err = cache.Get("../escape.html")
	assert.ErrorIs(t, err, ErrInvalidTemplateName)
}

func TestRenderEscapesHTML(t *testing.T) {
	fsys := fstest.MapFS{
		"hello.html": {Data: []byte(`<p>Hello {{.Name}}</p>`)},
	}
	cache, err := NewTemplateCache(fsys, 4)
	require.NoError(t, err)

	out, err := cache.Render("hello.html", map[string]string{"Name": "<script>x</script>"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestDefaultTemplatesRender(t *testing.T) {
	cache, err := NewTemplateCache(nil, 0)
	require.NoError(t, err)
	c := composer{templates: cache, branding: Branding{CompanyName: "Acme"}, expiries: defaultExpiries(Expiries{}), now: fixedNow}

	msg, err := c.verification("a@example.test", "https://app.example.test/verify-email?token=abc", "")
	require.NoError(t, err)
	assert.Equal(t, SubjectVerifyEmail, msg.Subject)
	assert.Contains(t, msg.HTML, "Hi there,")
	assert.Contains(t, msg.HTML, "https://app.example.test/verify-email?token=abc")
	assert.Contains(t, msg.HTML, "60 minutes")
	assert.Contains(t, msg.HTML, "2026 Acme")

	msg, err = c.reset("a@example.test", "https://app.example.test/reset-password?token=xyz")
	require.NoError(t, err)
	assert.Equal(t, SubjectResetPassword, msg.Subject)
	assert.Contains(t, msg.HTML, "token=xyz")

	msg, err = c.code("a@example.test", "483920")
	require.NoError(t, err)
	assert.Equal(t, SubjectCode, msg.Subject)
	assert.Contains(t, msg.HTML, "483920")
	assert.Contains(t, msg.HTML, "5 minutes")
	assert.True(t, strings.HasPrefix(msg.HTML, "<!DOCTYPE html>"))
}
