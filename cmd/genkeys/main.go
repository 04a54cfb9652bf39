// Command genkeys emits a CLIENT_KEYS_JSON document with sha256-hashed
// client keys for the backend configuration. Plain keys are printed once to
// stderr and never stored.
package main

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

type pair struct {
	appID    string
	plainKey string
}

type pairList []pair

func (p *pairList) String() string {
	return fmt.Sprintf("%d pairs", len(*p))
}

func (p *pairList) Set(value string) error {
	appID, plainKey, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected format app_id=plain_key")
	}
	appID = strings.TrimSpace(appID)
	plainKey = strings.TrimSpace(plainKey)
	if appID == "" {
		return fmt.Errorf("app_id is empty")
	}
	if plainKey == "" {
		return fmt.Errorf("plain_key is empty")
	}
	*p = append(*p, pair{appID: appID, plainKey: plainKey})
	return nil
}

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func hashKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// loadPairsFile reads lines of app_id=plain_key (or app_id:plain_key).
// Blank lines and #-comments are skipped.
func loadPairsFile(path string) ([]pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs []pair
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var appID, plainKey string
		if before, after, ok := strings.Cut(line, "="); ok {
			appID, plainKey = before, after
		} else if before, after, ok := strings.Cut(line, ":"); ok {
			appID, plainKey = before, after
		} else {
			return nil, fmt.Errorf("%s:%d invalid format, expected app_id=plain_key or app_id:plain_key", path, lineNo)
		}
		appID = strings.TrimSpace(appID)
		plainKey = strings.TrimSpace(plainKey)
		if appID == "" || plainKey == "" {
			return nil, fmt.Errorf("%s:%d app_id and plain_key must be non-empty", path, lineNo)
		}
		pairs = append(pairs, pair{appID: appID, plainKey: plainKey})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func run() int {
	var pairs pairList
	var generate stringList
	pairsFile := flag.String("pairs-file", "", "File with lines app_id=plain_key (or app_id:plain_key)")
	sharedKey := flag.String("shared-key", "", "Optional shared plain key for all apps, stored under '*' entry")
	pretty := flag.Bool("pretty", false, "Pretty-print JSON output")
	flag.Var(&pairs, "pair", "Pair in format app_id=plain_key. Can be repeated.")
	flag.Var(&generate, "generate", "Generate random key for app_id (32 bytes urlsafe). Can be repeated.")
	flag.Parse()

	all := []pair(pairs)
	if *pairsFile != "" {
		filePairs, err := loadPairsFile(*pairsFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		all = append(all, filePairs...)
	}

	generatedPlain := make(map[string]string)
	for _, appID := range generate {
		appID = strings.TrimSpace(appID)
		if appID == "" {
			fmt.Fprintln(os.Stderr, "Empty app_id in -generate")
			return 2
		}
		plainKey, err := randomKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Failed to generate key:", err)
			return 1
		}
		generatedPlain[appID] = plainKey
		all = append(all, pair{appID: appID, plainKey: plainKey})
	}

	if *sharedKey != "" {
		all = append(all, pair{appID: "*", plainKey: *sharedKey})
	}

	if len(all) == 0 {
		fmt.Fprintln(os.Stderr, "No input provided. Use -pair, -pairs-file or -generate.")
		return 2
	}

	output := make(map[string][]string)
	for _, p := range all {
		output[p.appID] = append(output[p.appID], hashKey(p.plainKey))
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(output); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to encode output:", err)
		return 1
	}

	if len(generatedPlain) > 0 {
		fmt.Fprintln(os.Stderr, "\nGenerated plain keys (save once, do not commit):")
		for appID, plainKey := range generatedPlain {
			fmt.Fprintf(os.Stderr, "%s=%s\n", appID, plainKey)
		}
	}

	return 0
}

func main() {
	os.Exit(run())
}
