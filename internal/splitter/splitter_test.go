package splitter

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal well-formed PDF with n blank pages.
func buildPDF(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	offsets := make([]int, 0, n+2)

	buf.WriteString("%PDF-1.4\n")
	offsets = append(offsets, buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R ", i+3)...)
	}
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(&buf, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids, n)

	for i := 0; i < n; i++ {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n", i+3)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestSplitPDFPartCounts(t *testing.T) {
	cases := []struct {
		pages, per int
		want       []int
	}{
		{pages: 20, per: 7, want: []int{7, 7, 6}},
		{pages: 5, per: 5, want: []int{5}},
		{pages: 3, per: 1, want: []int{1, 1, 1}},
		{pages: 4, per: 15, want: []int{4}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_pages_by_%d", tc.pages, tc.per), func(t *testing.T) {
			doc := buildPDF(t, tc.pages)
			n, err := CountPages(doc)
			require.NoError(t, err)
			require.Equal(t, tc.pages, n)

			parts, err := SplitPDF(doc, tc.per, "doc")
			require.NoError(t, err)
			require.Len(t, parts, (tc.pages+tc.per-1)/tc.per)

			next := 1
			for i, part := range parts {
				assert.Equal(t, tc.want[i], part.Pages())
				assert.Equal(t, next, part.FromPage, "parts must keep page order")
				assert.LessOrEqual(t, part.Pages(), tc.per)
				next = part.ThruPage + 1

				got, err := CountPages(part.Data)
				require.NoError(t, err)
				assert.Equal(t, part.Pages(), got)
			}
			assert.Equal(t, tc.pages+1, next)
			assert.Equal(t, fmt.Sprintf("doc_1-%d.pdf", parts[0].ThruPage), parts[0].Name)
		})
	}
}

func TestSplitPDFRejectsBadInput(t *testing.T) {
	_, err := SplitPDF(nil, 3, "")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = SplitPDF(buildPDF(t, 2), 0, "")
	assert.Error(t, err)

	_, err = SplitPDF([]byte("this is not a pdf"), 3, "")
	assert.Error(t, err)
}
