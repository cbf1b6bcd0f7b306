package algorithm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	positiveThreshold = 0.05
	negativeThreshold = -0.05

	// normalization constant of the compound score, as in VADER
	compoundAlpha = 15.0
)

// SentimentSummary holds the share of reviews per class, in percent.
type SentimentSummary struct {
	Good    float64 `json:"good"`
	Bad     float64 `json:"bad"`
	Neutral float64 `json:"neutral"`
}

var lexicon = map[string]float64{
	"good": 1.9, "great": 3.1, "excellent": 3.2, "amazing": 2.8, "awesome": 3.1,
	"love": 3.2, "loved": 2.9, "like": 1.5, "nice": 1.8, "happy": 2.7,
	"best": 3.2, "perfect": 2.7, "wonderful": 2.7, "fantastic": 2.6, "enjoy": 2.2,
	"enjoyed": 2.3, "recommend": 1.5, "fun": 2.3, "beautiful": 2.9, "fine": 0.8,
	"bad": -2.5, "terrible": -2.1, "awful": -2.0, "horrible": -2.5, "worst": -3.1,
	"hate": -2.7, "hated": -3.2, "poor": -2.1, "boring": -1.3, "disappointing": -2.2,
	"disappointed": -1.9, "waste": -1.8, "broken": -1.8, "sad": -2.1, "ugly": -2.3,
	"annoying": -1.7, "useless": -1.8, "problem": -1.7, "slow": -0.7, "wrong": -2.1,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "isn't": true, "wasn't": true,
	"don't": true, "doesn't": true, "didn't": true, "can't": true, "won't": true,
}

func collectReviews(dir string) (any, error) {
	f, err := os.Open(filepath.Join(dir, "reviews.txt"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reviews []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		reviews = append(reviews, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}

func processSentiment(data json.RawMessage) (any, error) {
	var reviews []string
	if err := json.Unmarshal(data, &reviews); err != nil {
		return nil, fmt.Errorf("sentiment input must be a list of strings: %w", err)
	}
	if len(reviews) == 0 {
		return nil, errors.New("no reviews to analyze")
	}

	var good, bad, neutral int
	for _, r := range reviews {
		switch c := Compound(r); {
		case c >= positiveThreshold:
			good++
		case c <= negativeThreshold:
			bad++
		default:
			neutral++
		}
	}
	total := float64(len(reviews))
	return SentimentSummary{
		Good:    float64(good) / total * 100,
		Bad:     float64(bad) / total * 100,
		Neutral: float64(neutral) / total * 100,
	}, nil
}

// Compound scores text in [-1, 1]. A negation flips the valence of the next
// three words.
func Compound(text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var sum float64
	negateFor := 0
	for _, w := range words {
		if negations[w] {
			negateFor = 3
			continue
		}
		v := lexicon[w]
		if negateFor > 0 {
			v = -0.74 * v
			negateFor--
		}
		sum += v
	}
	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+compoundAlpha)
}
