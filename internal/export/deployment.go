package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Compare reports whether deployed and local encode identically. When they
// differ, diff holds the changed lines prefixed with "-" (deployed) and "+"
// (local).
func Compare(deployed, local *Snapshot) (equal bool, diff string, err error) {
	a, err := deployed.Encode()
	if err != nil {
		return false, "", fmt.Errorf("encoding deployed snapshot: %w", err)
	}
	b, err := local.Encode()
	if err != nil {
		return false, "", fmt.Errorf("encoding local snapshot: %w", err)
	}
	if string(a) == string(b) {
		return true, "", nil
	}

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(string(a), string(b))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return false, out.String(), nil
}

// FetchDeployed downloads the export file served at url.
func FetchDeployed(ctx context.Context, client *http.Client, url string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching deployed export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching deployed export: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading deployed export: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing deployed export: %w", err)
	}
	return snap, nil
}
