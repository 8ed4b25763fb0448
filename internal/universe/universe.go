package universe

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Provider yields the stock-code universe for a run.
type Provider func() ([]string, error)

// FromConfig builds a provider from an optional code-list file plus inline
// codes. The file holds one code per line; blank lines and '#' comments are
// skipped. Inline codes are appended after the file, de-duplicated.
func FromConfig(file string, codes []string) Provider {
	return func() ([]string, error) {
		seen := make(map[string]bool)
		var out []string
		add := func(code string) {
			code = strings.TrimSpace(code)
			if code == "" || seen[code] {
				return
			}
			seen[code] = true
			out = append(out, code)
		}

		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return nil, fmt.Errorf("universe file: %w", err)
			}
			defer f.Close()
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				add(line)
			}
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("universe file: %w", err)
			}
		}
		for _, c := range codes {
			add(c)
		}
		return out, nil
	}
}

// Static wraps a fixed code list, mainly for tests and manual overrides.
func Static(codes []string) Provider {
	return func() ([]string, error) {
		return codes, nil
	}
}
