// Package shuffle produces the stable per-attempt question ordering.
//
// Questions are grouped into category buckets, each bucket is shuffled with a
// Fisher–Yates pass driven by a 32-bit xorshift generator seeded from an FNV-1a
// hash of the attempt seed, and buckets are concatenated in a fixed order.
package shuffle

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	fnvOffsetBasis uint32 = 0x811c9dc5
	fnvPrime       uint32 = 16777619
)

// BucketOther collects questions whose category matches no known subject.
const BucketOther = "Other"

// CategoryOrder is the fixed order buckets are assembled in.
var CategoryOrder = []string{"English", "Filipino", "Math", "Science", "Abstract"}

// NewSeed formats the seed for a brand-new attempt.
func NewSeed(examRefNo, examID string, now time.Time, random string) string {
	return fmt.Sprintf("%s:%s:%d:%s", examRefNo, examID, now.Unix(), random)
}

// HashSeed folds a seed string into 32 bits with FNV-1a over UTF-16 code units,
// so seeds hash identically on every client that shares them.
func HashSeed(seed string) uint32 {
	h := fnvOffsetBasis
	for _, unit := range utf16.Encode([]rune(seed)) {
		h ^= uint32(unit)
		h *= fnvPrime
	}
	return h
}

// XorShift32 is Marsaglia's 13/17/5 xorshift generator.
type XorShift32 struct {
	state uint32
}

// NewXorShift32 seeds a generator. A zero seed would lock the generator at
// zero forever, so it is replaced by the FNV offset basis.
func NewXorShift32(seed uint32) *XorShift32 {
	if seed == 0 {
		seed = fnvOffsetBasis
	}
	return &XorShift32{state: seed}
}

// Next advances the generator and returns the new state.
func (x *XorShift32) Next() uint32 {
	s := x.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	x.state = s
	return s
}

// Float64 returns a uniform draw in [0, 1).
func (x *XorShift32) Float64() float64 {
	return float64(x.Next()) / 4294967296.0
}

// Intn returns a uniform draw in [0, n).
func (x *XorShift32) Intn(n int) int {
	return int(x.Float64() * float64(n))
}

// Bucket maps a free-form category onto its assembly bucket by
// case-insensitive substring match.
func Bucket(category string) string {
	lower := strings.ToLower(category)
	for _, name := range CategoryOrder {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return BucketOther
}

// Order returns a new slice holding questions in the attempt's stable order.
// The input slice is not modified.
func Order(questions []model.Question, seed string) []model.Question {
	buckets := make(map[string][]model.Question)
	for _, q := range questions {
		b := Bucket(q.Category)
		buckets[b] = append(buckets[b], q)
	}

	rng := NewXorShift32(HashSeed(seed))
	ordered := make([]model.Question, 0, len(questions))
	for _, name := range bucketOrder(buckets) {
		items := buckets[name]
		// Fetch order must not leak into the result.
		sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		fisherYates(items, rng)
		ordered = append(ordered, items...)
	}
	return ordered
}

func fisherYates(items []model.Question, rng *XorShift32) {
	for i := len(items) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

func bucketOrder(buckets map[string][]model.Question) []string {
	order := make([]string, 0, len(buckets))
	fixed := make(map[string]bool, len(CategoryOrder))
	for _, name := range CategoryOrder {
		fixed[name] = true
		if _, ok := buckets[name]; ok {
			order = append(order, name)
		}
	}

	var rest []string
	for name := range buckets {
		if !fixed[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
