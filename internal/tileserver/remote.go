package tileserver

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/manzt/higlass-go/internal/model"
)

// FiletypeChromSizesTSV is the filetype for tab-separated chromosome size
// files ("chr1\t248956422" per line).
const FiletypeChromSizesTSV = "chromsizes-tsv"

// maxChromSizesBytes bounds how much of a remote chromsizes file is read.
const maxChromSizesBytes = 1 << 20 // 1 MB

// NewChromSizesTSVFactory returns a factory that fetches a chromsizes TSV
// from the registration's URL and serves it as a chromsizes tileset. The
// file is fetched once, at registration time.
func NewChromSizesTSVFactory(client *http.Client) Factory {
	if client == nil {
		client = http.DefaultClient
	}
	return func(reg *model.RemoteTileset) (Tileset, error) {
		resp, err := client.Get(reg.FileURL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", reg.FileURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", reg.FileURL, resp.StatusCode)
		}

		sizes, err := parseChromSizes(io.LimitReader(resp.Body, maxChromSizesBytes))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", reg.FileURL, err)
		}

		return NewStaticTileset(StaticConfig{
			UID:        reg.UID,
			Name:       path.Base(reg.FileURL),
			Filename:   path.Base(reg.FileURL),
			Datatype:   "chromsizes",
			ChromSizes: sizes,
		}), nil
	}
}

// parseChromSizes reads "name\tsize" lines. Blank lines are skipped.
func parseChromSizes(r io.Reader) ([]ChromSize, error) {
	var sizes []ChromSize
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		name, sizeStr, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: no tab separator", line)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad size %q", line, sizeStr)
		}
		sizes = append(sizes, ChromSize{Name: name, Size: size})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chromsizes: %w", err)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no chromosome sizes found")
	}
	return sizes, nil
}
