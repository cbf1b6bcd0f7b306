package algorithm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	matchScore    = 2
	mismatchScore = -1
	gapPenalty    = -1

	recordHeader = ">hsa:"
)

// Alignment is the result of a Smith-Waterman local alignment.
type Alignment struct {
	Score    int    `json:"score"`
	Aligned1 string `json:"aligned_seq1"`
	Aligned2 string `json:"aligned_seq2"`
}

// collectAlignmentData reads the first record of database.txt and query.txt
// and joins them with a newline.
func collectAlignmentData(dir string) (any, error) {
	db, err := readRecords(filepath.Join(dir, "database.txt"))
	if err != nil {
		return nil, err
	}
	query, err := readRecords(filepath.Join(dir, "query.txt"))
	if err != nil {
		return nil, err
	}
	if len(db) == 0 || len(query) == 0 {
		return nil, errors.New("database and query need at least one record each")
	}
	return db[0] + "\n" + query[0], nil
}

// readRecords parses a FASTA-like file whose records start with ">hsa:".
// Lines before the first header are ignored.
func readRecords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		records []string
		current strings.Builder
		started bool
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, recordHeader) {
			if started {
				records = append(records, current.String())
			}
			current.Reset()
			started = true
			continue
		}
		if started {
			current.WriteString(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if started {
		records = append(records, current.String())
	}
	return records, nil
}

func processAlignment(data json.RawMessage) (any, error) {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return nil, fmt.Errorf("alignment input must be a string: %w", err)
	}
	seq1, seq2, ok := strings.Cut(text, "\n")
	if !ok {
		return nil, errors.New("alignment input must hold two newline separated sequences")
	}
	seq2, _, _ = strings.Cut(seq2, "\n")
	return SmithWaterman(seq1, seq2), nil
}

// SmithWaterman computes the best local alignment of a and b.
func SmithWaterman(a, b string) Alignment {
	n, m := len(a), len(b)
	score := make([][]int, n+1)
	for i := range score {
		score[i] = make([]int, m+1)
	}

	sub := func(i, j int) int {
		if a[i-1] == b[j-1] {
			return matchScore
		}
		return mismatchScore
	}

	best, bi, bj := 0, 0, 0
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			v := max(0,
				score[i-1][j-1]+sub(i, j),
				score[i-1][j]+gapPenalty,
				score[i][j-1]+gapPenalty,
			)
			score[i][j] = v
			if v > best {
				best, bi, bj = v, i, j
			}
		}
	}

	var out1, out2 []byte
	i, j := bi, bj
	for i > 0 && j > 0 && score[i][j] != 0 {
		switch {
		case score[i][j] == score[i-1][j-1]+sub(i, j):
			out1 = append(out1, a[i-1])
			out2 = append(out2, b[j-1])
			i--
			j--
		case score[i][j] == score[i-1][j]+gapPenalty:
			out1 = append(out1, a[i-1])
			out2 = append(out2, '-')
			i--
		default:
			out1 = append(out1, '-')
			out2 = append(out2, b[j-1])
			j--
		}
	}
	reverse(out1)
	reverse(out2)
	return Alignment{Score: best, Aligned1: string(out1), Aligned2: string(out2)}
}

func reverse(b []byte) {
	for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
}
