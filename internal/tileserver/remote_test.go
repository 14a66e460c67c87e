package tileserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/manzt/higlass-go/internal/model"
)

func TestChromSizesTSVFactory(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chr1\t248956422\nchr2\t242193529\n\n"))
	}))
	t.Cleanup(src.Close)

	factory := NewChromSizesTSVFactory(src.Client())
	ts, err := factory(&model.RemoteTileset{
		UID:      "remote-1",
		FileURL:  src.URL + "/hg38.chrom.sizes",
		Filetype: FiletypeChromSizesTSV,
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	if ts.UID() != "remote-1" {
		t.Errorf("UID = %q, want remote-1", ts.UID())
	}
	if ts.Datatype() != "chromsizes" {
		t.Errorf("Datatype = %q, want chromsizes", ts.Datatype())
	}

	src2, ok := ts.(ChromSizeSource)
	if !ok {
		t.Fatal("tileset does not provide chrom sizes")
	}
	sizes := src2.ChromSizes()
	if len(sizes) != 2 {
		t.Fatalf("got %d chrom sizes, want 2", len(sizes))
	}
	if sizes[0].Name != "chr1" || sizes[0].Size != 248956422 {
		t.Errorf("sizes[0] = %+v, want chr1/248956422", sizes[0])
	}
	if got := ts.Meta()["filename"]; got != "hg38.chrom.sizes" {
		t.Errorf("filename = %v, want hg38.chrom.sizes", got)
	}
}

func TestChromSizesTSVFactoryHTTPError(t *testing.T) {
	src := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(src.Close)

	factory := NewChromSizesTSVFactory(src.Client())
	_, err := factory(&model.RemoteTileset{UID: "x", FileURL: src.URL + "/missing"})
	if err == nil {
		t.Error("expected error for 404 response, got nil")
	}
}

func TestParseChromSizesErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no tab", "chr1 100\n"},
		{"bad size", "chr1\tlots\n"},
		{"empty", "\n\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseChromSizes(strings.NewReader(tc.input)); err == nil {
				t.Errorf("parseChromSizes(%q) succeeded, want error", tc.input)
			}
		})
	}
}
