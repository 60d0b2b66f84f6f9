package appendix

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpa-ufpa/avalia-report/internal/assets"
	"github.com/cpa-ufpa/avalia-report/internal/pdfdoc"
	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
)

func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Text(40, 60, "questionario")
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

type countingSource struct {
	inner Source
	calls int
}

func (c *countingSource) Load(ctx context.Context, ref string) ([]byte, error) {
	c.calls++
	return c.inner.Load(ctx, ref)
}

func newMerger(t *testing.T) (*Merger, *countingSource, string) {
	t.Helper()
	dir := t.TempDir()
	loader, err := assets.NewLoader(dir, nil, 0)
	require.NoError(t, err)
	src := &countingSource{inner: loader}
	m := NewMerger(src, 0)
	m.SetLogger(log.New(io.Discard, "", 0))
	return m, src, dir
}

func TestAppend(t *testing.T) {
	m, src, dir := newMerger(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "questionario_disc_2025.pdf"), samplePDF(t, 2), 0o644))

	doc := samplePDF(t, 3)
	out, err := m.Append(context.Background(), doc, "questionario_disc_2025.pdf")
	require.NoError(t, err)

	n, err := pdfdoc.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = m.Append(context.Background(), doc, "questionario_disc_2025.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "the appendix is loaded once")
}

func TestAppend_FailuresKeepDocument(t *testing.T) {
	m, _, dir := newMerger(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("%PDF-1.4 garbage"), 0o644))
	doc := samplePDF(t, 1)

	for _, ref := range []string{"missing.pdf", "broken.pdf", "../../etc/passwd"} {
		out, err := m.Append(context.Background(), doc, ref)
		require.Error(t, err, ref)
		assert.Equal(t, reporterr.KindAppendixFailed, reporterr.KindOf(err), ref)
		assert.Equal(t, doc, out, ref)
	}
}

func TestAppend_EmptyRef(t *testing.T) {
	m, src, _ := newMerger(t)
	doc := samplePDF(t, 1)
	out, err := m.Append(context.Background(), doc, "")
	assert.NoError(t, err)
	assert.Equal(t, doc, out)
	assert.Zero(t, src.calls)
}
